package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"trappertracker/api/internal/account"
	"trappertracker/api/internal/auth"
	"trappertracker/api/internal/config"
	"trappertracker/api/internal/ratelimit"
	"trappertracker/api/internal/search"
	"trappertracker/api/internal/store"
)

const (
	quotaLogin    = 5
	quotaRegister = 5
	quotaSubmit   = 10
)

const (
	sessionCookie = "session"
	adminCookie   = "admin_token"
	csrfCookie    = "csrf_token"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	limiter    *ratelimit.Limiter
	csrfSecret []byte
	staticDir  string
}

func NewHTTPServer(service *Service, cfg config.Config, limiter *ratelimit.Limiter) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: cfg.CORSOrigin,
		limiter:    limiter,
		csrfSecret: []byte(cfg.CSRFSecret),
		staticDir:  cfg.StaticDir,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/") {
		s.serveStatic(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"ok": status == "ready", "status": status, "checks": checks})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/register" {
		s.handleRegister(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		s.handleLogin(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/logout" {
		s.handleLogout(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/verify-email" {
		s.handleVerifyEmail(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/verify" {
		s.handleAuthVerify(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/login" {
		s.handleAdminLogin(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/csrf-token" {
		s.handleCSRFToken(w, r)
		return
	}

	// Public read routes
	if r.Method == http.MethodGet && r.URL.Path == "/api/mapdata" {
		s.handleMapData(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/reports/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[1] == "photos" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		s.handlePhotoGet(w, r, parts[2])
		return
	}

	if len(parts) >= 2 && parts[1] == "admin" {
		s.handleAdmin(w, r, parts)
		return
	}

	// Everything below requires a user session.
	session, err := s.userSession(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in required", nil)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/report" {
		s.handleSubmitReport(w, r, session)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/report/photo" {
		s.handlePhotoUpload(w, r)
		return
	}
	if len(parts) == 4 && parts[1] == "reports" && parts[3] == "flag" && r.Method == http.MethodPost {
		s.handleFlagReport(w, r, parts[2])
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/extension-submit" {
		s.handleExtensionSubmit(w, r, session)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/pending-submissions" {
		s.handleListPending(w, r, session)
		return
	}
	if len(parts) == 4 && parts[1] == "pending-submissions" && parts[3] == "complete" && r.Method == http.MethodPost {
		s.handleCompletePending(w, r, session, parts[2])
		return
	}
	if len(parts) == 3 && parts[1] == "pending-submissions" && r.Method == http.MethodDelete {
		s.handleDeletePending(w, r, session, parts[2])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, "register", quotaRegister) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts, slow down", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	resp, err := s.service.Register(r.Context(), body.Email, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	// Dev bypass: surface the verification token when email is not configured
	if !s.service.SMTPConfigured() {
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, "login", quotaLogin) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts, slow down", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	session, err := s.service.Login(r.Context(), body.Email, body.Password, ratelimit.ClientKey(r))
	if err != nil {
		writeMappedError(w, err)
		return
	}

	setSessionCookie(w, sessionCookie, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  session.Token,
		"userId": session.UserID,
		"email":  session.Email,
		"role":   session.Role,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := cookieOrBearer(r, sessionCookie)
	if token == "" {
		token = cookieOrBearer(r, adminCookie)
	}
	if token != "" {
		if err := s.service.Logout(r.Context(), token); err != nil {
			log.Printf("app: logout: %v", err)
		}
	}
	clearCookie(w, sessionCookie)
	clearCookie(w, adminCookie)
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err := s.service.VerifyEmail(r.Context(), body.Token); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (s *HTTPServer) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	token := cookieOrBearer(r, sessionCookie)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"email":         session.Email,
		"role":          session.Role,
	})
}

func (s *HTTPServer) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, "admin-login", quotaLogin) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts, slow down", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	session, err := s.service.AdminLogin(body.Email, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	setSessionCookie(w, adminCookie, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := auth.IssueCSRFToken(s.csrfSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

// Report handlers

func (s *HTTPServer) handleSubmitReport(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.allow(r, "report", quotaSubmit) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many submissions, slow down", nil)
		return
	}

	var input SubmitReportInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	id, err := s.service.SubmitReport(r.Context(), session, input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *HTTPServer) handleMapData(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	input := MapDataInput{
		ShowDangerZones: query.Get("show_danger_zones") != "false",
		ShowLostPets:    query.Get("show_lost_pets") != "false",
		ShowFoundPets:   query.Get("show_found_pets") != "false",
		ShowAnimals:     query.Get("show_animals") != "false",
	}

	boundKeys := []string{"lat_min", "lat_max", "lon_min", "lon_max"}
	supplied := 0
	bounds := make([]float64, 4)
	for i, key := range boundKeys {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("%s must be a number", key), nil)
			return
		}
		bounds[i] = value
		supplied++
	}
	if supplied != 0 && supplied != len(boundKeys) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Provide all four bounds or none", nil)
		return
	}
	if supplied == len(boundKeys) {
		input.HasBounds = true
		input.Bounds = store.MapBounds{LatMin: bounds[0], LatMax: bounds[1], LonMin: bounds[2], LonMax: bounds[3]}
	}

	if raw := query.Get("recency_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "recency_hours must be a non-negative integer", nil)
			return
		}
		input.RecencyHours = hours
	}

	resp, err := s.service.MapData(r.Context(), input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{Text: strings.TrimSpace(query.Get("q"))}
	if q.Text == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= 100 {
			q.Limit = limit
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset >= 0 {
			q.Offset = offset
		}
	}
	writeJSON(w, http.StatusOK, s.service.SearchReports(q))
}

func (s *HTTPServer) handleFlagReport(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid report id", nil)
		return
	}
	if err := s.service.FlagReport(r.Context(), id); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flagged"})
}

func (s *HTTPServer) handlePhotoUpload(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, "photo", quotaSubmit) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many uploads, slow down", nil)
		return
	}

	contentType := r.Header.Get("Content-Type")
	key, err := s.service.UploadPhoto(r.Context(), r.Body, r.ContentLength, contentType)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"photoKey": key})
}

func (s *HTTPServer) handlePhotoGet(w http.ResponseWriter, r *http.Request, key string) {
	rc, contentType, err := s.service.GetPhoto(r.Context(), key)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("app: stream photo %s: %v", key, err)
	}
}

// Extension handlers

func (s *HTTPServer) handleExtensionSubmit(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.allow(r, "report", quotaSubmit) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many submissions, slow down", nil)
		return
	}

	var body struct {
		Description string `json:"description"`
		SourceURL   string `json:"sourceUrl"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	id, err := s.service.ExtensionSubmit(r.Context(), session, body.Description, body.SourceURL)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *HTTPServer) handleListPending(w http.ResponseWriter, r *http.Request, session Session) {
	subs, err := s.service.ListPendingSubmissions(r.Context(), session)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		items = append(items, map[string]any{
			"id":          sub.ID,
			"description": sub.Description,
			"sourceUrl":   sub.SourceURL,
			"createdAt":   sub.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": items})
}

func (s *HTTPServer) handleCompletePending(w http.ResponseWriter, r *http.Request, session Session, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid submission id", nil)
		return
	}

	var body struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	reportID, err := s.service.CompletePendingSubmission(r.Context(), session, id, body.Latitude, body.Longitude)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reportId": reportID})
}

func (s *HTTPServer) handleDeletePending(w http.ResponseWriter, r *http.Request, session Session, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid submission id", nil)
		return
	}
	if err := s.service.DeletePendingSubmission(r.Context(), session, id); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Admin handlers

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, parts []string) {
	// /api/admin/login is handled earlier, before admin auth.
	admin, err := s.adminSession(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Admin sign in required", nil)
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		if !s.checkCSRF(r) {
			writeError(w, http.StatusForbidden, "CSRF_FAILED", "CSRF token missing or invalid", nil)
			return
		}
	}

	meta := AuditMeta{IP: ratelimit.ClientKey(r), UserAgent: r.UserAgent()}

	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/moderation-queue" {
		s.handleModerationQueue(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/audit-log" {
		s.handleAuditLog(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/reports/bulk-action" {
		s.handleBulkAction(w, r, admin, meta)
		return
	}

	if len(parts) >= 4 && parts[2] == "reports" {
		id, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid report id", nil)
			return
		}

		if len(parts) == 5 {
			switch {
			case parts[4] == "approve" && r.Method == http.MethodPut:
				s.respondModeration(w, s.service.ApproveReport(r.Context(), admin, id, meta), "approved")
				return
			case parts[4] == "reject" && r.Method == http.MethodPut:
				var body struct {
					Reason string `json:"reason"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
					return
				}
				s.respondModeration(w, s.service.RejectReport(r.Context(), admin, id, body.Reason, meta), "rejected")
				return
			case parts[4] == "reopen" && r.Method == http.MethodPut:
				s.respondModeration(w, s.service.ReopenReport(r.Context(), admin, id, meta), "pending")
				return
			case parts[4] == "history" && r.Method == http.MethodGet:
				s.handleReportHistory(w, r, id)
				return
			}
		}

		if len(parts) == 4 && r.Method == http.MethodPut {
			var input EditReportInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			s.respondModeration(w, s.service.EditReport(r.Context(), admin, id, input, meta), "updated")
			return
		}
		if len(parts) == 4 && r.Method == http.MethodDelete {
			s.respondModeration(w, s.service.DeleteReport(r.Context(), admin, id, meta), "deleted")
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) respondModeration(w http.ResponseWriter, err error, status string) {
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *HTTPServer) handleModerationQueue(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	order := query.Get("order")
	if order == "" {
		order = query.Get("dir")
	}
	filter := store.QueueFilter{
		Status:  query.Get("status"),
		Source:  query.Get("source"),
		Flagged: query.Get("flagged") == "true",
		Search:  strings.TrimSpace(query.Get("search")),
		SortKey: query.Get("sort"),
		SortDir: order,
	}
	filter.Page, _ = strconv.Atoi(query.Get("page"))
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))

	resp, err := s.service.ModerationQueue(r.Context(), filter)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleBulkAction(w http.ResponseWriter, r *http.Request, admin Session, meta AuditMeta) {
	var body struct {
		Action string  `json:"action"`
		IDs    []int64 `json:"ids"`
		Reason string  `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	result, err := s.service.BulkAction(r.Context(), admin, body.Action, body.IDs, body.Reason, meta)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": result})
}

func (s *HTTPServer) handleReportHistory(w http.ResponseWriter, r *http.Request, id int64) {
	edits, err := s.service.ReportHistory(r.Context(), id)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(edits))
	for _, edit := range edits {
		items = append(items, map[string]any{
			"field":     edit.Field,
			"oldValue":  edit.OldValue,
			"newValue":  edit.NewValue,
			"editorId":  edit.EditorID,
			"createdAt": edit.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"edits": items})
}

func (s *HTTPServer) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	entries, err := s.service.AuditLog(r.Context(), page, limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, map[string]any{
			"id":         entry.ID,
			"adminId":    entry.AdminID,
			"actionType": entry.ActionType,
			"targetType": entry.TargetType,
			"targetId":   entry.TargetID,
			"details":    entry.Details,
			"ip":         entry.IP,
			"userAgent":  entry.UserAgent,
			"createdAt":  entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}

// Static assets

func (s *HTTPServer) serveStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	path := filepath.Join(s.staticDir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

// Session helpers

func (s *HTTPServer) userSession(r *http.Request) (Session, error) {
	token := cookieOrBearer(r, sessionCookie)
	if token == "" {
		return Session{}, auth.ErrInvalidToken
	}
	return s.service.SessionFromToken(r.Context(), token)
}

func (s *HTTPServer) adminSession(r *http.Request) (Session, error) {
	token := cookieOrBearer(r, adminCookie)
	if token == "" {
		return Session{}, auth.ErrInvalidToken
	}
	return s.service.AdminSessionFromToken(r.Context(), token)
}

// checkCSRF requires the csrf cookie and the X-CSRF-Token header to match
// and the signature to verify.
func (s *HTTPServer) checkCSRF(r *http.Request) bool {
	header := r.Header.Get("X-CSRF-Token")
	if header == "" {
		return false
	}
	cookie, err := r.Cookie(csrfCookie)
	if err != nil || cookie.Value != header {
		return false
	}
	return auth.VerifyCSRFToken(s.csrfSecret, header)
}

func (s *HTTPServer) allow(r *http.Request, endpoint string, quota int) bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow(endpoint+":"+ratelimit.ClientKey(r), quota)
}

func cookieOrBearer(r *http.Request, name string) string {
	if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r)
}

func setSessionCookie(w http.ResponseWriter, name, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware and shared helpers

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-CSRF-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, account.ErrInvalidCredentials) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil
	}
	if errors.Is(err, account.ErrWeakPassword) || errors.Is(err, account.ErrInvalidEmail) ||
		errors.Is(err, account.ErrMissingFields) || errors.Is(err, account.ErrBadVerification) {
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, store.ErrDuplicateEmail) {
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
