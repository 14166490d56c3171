// Package idempotency makes mutating HTTP endpoints safe to retry. Clients
// send an Idempotency-Key header; the first request with a given key runs the
// handler and records its response, and later requests with the same key and
// an identical payload replay that response instead of re-executing.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a recorded response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrPayloadMismatch signals that a key was reused with a different request
// payload, which is a client error rather than a retry.
var ErrPayloadMismatch = errors.New("idempotency: key reused with a different request")

// StoredResponse is a handler response captured for replay.
type StoredResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// Outcome reports what Begin found for a key.
//
// Exactly one of three shapes comes back: Replay set (a completed response
// exists), InFlight true (another request holds the key), or neither (the
// caller now owns the key and must Complete or Abandon it).
type Outcome struct {
	Replay   *StoredResponse
	InFlight bool
}

// Fresh reports whether the caller acquired the key and should run the handler.
func (o Outcome) Fresh() bool {
	return o.Replay == nil && !o.InFlight
}

// Store persists idempotency state. Implementations must make Begin atomic so
// that concurrent requests with the same key see at most one fresh outcome.
type Store interface {
	// Begin claims the key for the given request payload hash, or reports
	// the state a previous request left behind. Expired entries are
	// reclaimed as fresh.
	Begin(ctx context.Context, key, payloadHash string, now time.Time, ttl time.Duration) (Outcome, error)

	// Complete records the handler response so later requests replay it.
	Complete(ctx context.Context, key, payloadHash string, resp StoredResponse, now time.Time, ttl time.Duration) error

	// Abandon releases a claim without recording a response, allowing the
	// client to retry.
	Abandon(ctx context.Context, key, payloadHash string) error

	// CleanupExpired deletes entries whose TTL has elapsed, up to limit,
	// and returns how many were removed.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Headers that describe the original transfer rather than the payload must
// not be replayed onto a later response.
var volatileHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Trailer":             {},
	"Te":                  {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Content-Length":      {},
	"Date":                {},
}

func replayableHeaders(src http.Header) http.Header {
	if len(src) == 0 {
		return nil
	}
	dst := make(http.Header, len(src))
	for name, values := range src {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
		if canonical == "" {
			continue
		}
		if _, skip := volatileHeaders[canonical]; skip {
			continue
		}
		dst[canonical] = append([]string(nil), values...)
	}
	if len(dst) == 0 {
		return nil
	}
	return dst
}
