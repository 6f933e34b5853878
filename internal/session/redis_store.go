// Package session provides the shared revocation list and failed-login
// counters backing the authentication layer.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements token revocation and failed-login counting on
// Redis so multiple instances share state. When Redis is not configured
// the Postgres store's revocation table is used instead.
type RedisStore struct {
	client        *redis.Client
	revokedPrefix string
	failedPrefix  string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:        client,
		revokedPrefix: "revoked:",
		failedPrefix:  "failed_login:",
	}
}

// RevokeAccessToken marks a token's JTI revoked until its natural expiry,
// so the entry ages out of Redis on its own.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil // already expired, nothing to revoke
	}
	if err := s.client.Set(ctx, s.revokedPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

// IsAccessTokenRevoked reports whether a JTI is on the revocation list.
func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := s.client.Get(ctx, s.revokedPrefix+jti).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return true, nil
}

// RecordFailedLogin bumps the failed-login counter for a client key and
// returns the new count. The counter expires with the window.
func (s *RedisStore) RecordFailedLogin(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := s.failedPrefix + key
	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("record failed login: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return count, fmt.Errorf("expire failed login counter: %w", err)
		}
	}
	return count, nil
}

// ClearFailedLogins resets the failed-login counter after a success.
func (s *RedisStore) ClearFailedLogins(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.failedPrefix+key).Err(); err != nil {
		return fmt.Errorf("clear failed logins: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
