package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vesoko/marketplace-api/internal/platform/auth"
	"github.com/vesoko/marketplace-api/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) bool
}

// sweepInterval is how many new windows may open before stale buckets are
// swept from the map.
const sweepInterval = 64

type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*rateBucket
	opened  int
}

type rateBucket struct {
	hits    int
	opensAt time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]*rateBucket),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[key]
	if b == nil || now.Sub(b.opensAt) >= l.window {
		l.buckets[key] = &rateBucket{hits: 1, opensAt: now}
		l.opened++
		if l.opened >= sweepInterval {
			l.sweepLocked(now)
			l.opened = 0
		}
		return true
	}
	if b.hits >= l.limit {
		return false
	}
	b.hits++
	return true
}

func (l *fixedWindowLimiter) sweepLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.opensAt) >= l.window {
			delete(l.buckets, key)
		}
	}
}

// RateLimitOptions sets per-minute request budgets for checkout endpoints.
// Authenticated callers are keyed by user ID, everyone else by client IP.
type RateLimitOptions struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	Clock                  func() time.Time
}

// NewRateLimitMiddleware builds a chi-compatible middleware enforcing the
// configured budgets. A nil return means rate limiting is disabled.
func NewRateLimitMiddleware(opts RateLimitOptions) func(http.Handler) http.Handler {
	defaultLimiter := newFixedWindowLimiter(opts.DefaultPerMinute, time.Minute, opts.Clock)
	authLimiter := newFixedWindowLimiter(opts.AuthenticatedPerMinute, time.Minute, opts.Clock)
	if defaultLimiter == nil && authLimiter == nil {
		return nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			limiter := defaultLimiter
			key := clientAddr(r)
			if identity, ok := auth.IdentityFromContext(ctx); ok && strings.TrimSpace(identity.UID) != "" {
				if authLimiter != nil {
					limiter = authLimiter
				}
				key = "uid:" + identity.UID
			}
			if limiter != nil && !limiter.Allow(key) {
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return "ip:" + host
}
