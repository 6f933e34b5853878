package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRevokeAndCheckAccessToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	revoked, err := store.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsAccessTokenRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected unknown jti not to be revoked")
	}

	if err := store.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}

	revoked, err = store.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsAccessTokenRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected jti-1 to be revoked")
	}
}

func TestRevocationExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if err := store.RevokeAccessToken(ctx, "jti-short", time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}

	// Fast-forward past the token's natural expiry in miniredis.
	s.FastForward(time.Second)

	revoked, err := store.IsAccessTokenRevoked(ctx, "jti-short")
	if err != nil {
		t.Fatalf("IsAccessTokenRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected revocation entry to age out with the token")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if err := store.RevokeAccessToken(ctx, "jti-expired", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}

	revoked, err := store.IsAccessTokenRevoked(ctx, "jti-expired")
	if err != nil {
		t.Fatalf("IsAccessTokenRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected expired token not to be stored")
	}
}

func TestFailedLoginCounter(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, err := store.RecordFailedLogin(ctx, "192.0.2.1", time.Minute)
		if err != nil {
			t.Fatalf("RecordFailedLogin failed: %v", err)
		}
		if count != int64(i) {
			t.Errorf("expected count %d, got %d", i, count)
		}
	}

	if err := store.ClearFailedLogins(ctx, "192.0.2.1"); err != nil {
		t.Fatalf("ClearFailedLogins failed: %v", err)
	}

	count, err := store.RecordFailedLogin(ctx, "192.0.2.1", time.Minute)
	if err != nil {
		t.Fatalf("RecordFailedLogin after clear failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected counter to restart at 1, got %d", count)
	}
}

func TestFailedLoginCounterExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if _, err := store.RecordFailedLogin(ctx, "192.0.2.2", time.Minute); err != nil {
		t.Fatalf("RecordFailedLogin failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	count, err := store.RecordFailedLogin(ctx, "192.0.2.2", time.Minute)
	if err != nil {
		t.Fatalf("RecordFailedLogin after window failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected counter to reset after window, got %d", count)
	}
}
