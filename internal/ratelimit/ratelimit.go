// Package ratelimit provides an in-process sliding-window rate limiter.
// State is per-process and resets on restart; it is abuse mitigation,
// not security-critical counting.
package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// Limiter tracks request timestamps per client key over a fixed window.
type Limiter struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time
	stopCh  chan struct{}
}

// New creates a Limiter with the given window and starts a background
// cleanup goroutine. Call Stop() to release resources.
func New(window time.Duration) *Limiter {
	l := &Limiter{
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
		stopCh:  make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Stop halts the background cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

// Allow reports whether the client identified by key may make another
// request under the given quota. Rejected attempts are not recorded, so a
// client locked out mid-window regains its full quota once the window
// rolls over.
func (l *Limiter) Allow(key string, quota int) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.buckets[key], cutoff)
	if len(recent) >= quota {
		l.buckets[key] = recent
		return false
	}
	l.buckets[key] = append(recent, now)
	return true
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			cutoff := l.now().Add(-l.window)
			l.mu.Lock()
			for key, stamps := range l.buckets {
				recent := prune(stamps, cutoff)
				if len(recent) == 0 {
					delete(l.buckets, key)
					continue
				}
				l.buckets[key] = recent
			}
			l.mu.Unlock()
		}
	}
}

// ClientKey returns the client IP for the request, preferring the first
// X-Forwarded-For entry when present, else the RemoteAddr host.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := range xff {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
