package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trappertracker/api/internal/account"
	"trappertracker/api/internal/app"
	"trappertracker/api/internal/config"
	"trappertracker/api/internal/email"
	"trappertracker/api/internal/photo"
	"trappertracker/api/internal/ratelimit"
	"trappertracker/api/internal/search"
	"trappertracker/api/internal/session"
	"trappertracker/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	accounts := account.NewService(dataStore, strings.ToLower(strings.TrimSpace(cfg.AdminEmail)), cfg.AdminPasswordHash)

	// Redis holds the revocation list when configured; the
	// revoked_access_tokens table covers single-node deployments.
	var revocations interface {
		RevokeAccessToken(context.Context, string, time.Time) error
		IsAccessTokenRevoked(context.Context, string) (bool, error)
	} = dataStore
	var redisStore *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for session revocation")
		redisStore, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		revocations = redisStore
	} else {
		log.Printf("Using PostgreSQL for session revocation")
	}

	service := app.NewService(cfg, dataStore, accounts, revocations)
	if redisStore != nil {
		service.SetLoginThrottle(redisStore)
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	service.SetSearch(searchService)
	if meiliClient != nil && meiliClient.Healthy() {
		go searchService.ReindexAllFromPG(ctx)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		photos, err := photo.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		service.SetPhotos(photos)
	} else {
		log.Printf("MinIO not configured, photo uploads disabled")
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	service.SetEmail(emailService)
	if !emailService.IsConfigured() {
		log.Printf("SMTP not configured, verification tokens returned in responses")
	}

	limiter := ratelimit.New(time.Minute)
	defer limiter.Stop()

	httpServer := app.NewHTTPServer(service, cfg, limiter)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("TrapperTracker API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
