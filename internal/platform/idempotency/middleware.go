package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vesoko/marketplace-api/internal/platform/auth"
	"github.com/vesoko/marketplace-api/internal/platform/httpx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "X-Idempotent-Replay"
)

// Logger receives background persistence failures from the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	header string
	ttl    time.Duration
	now    func() time.Time
	logger Logger
}

// MiddlewareOption adjusts middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader changes the request header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

// WithTTL changes how long recorded responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger routes persistence failures to the given logger.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source in tests.
func WithClock(now func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// Middleware enforces idempotency on mutating requests. Requests without a
// key header are rejected; a repeated key with the same payload replays the
// recorded response, and a repeated key with a different payload gets 409.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		header: defaultHeader,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"idempotency_key_required",
					"missing "+cfg.header+" header",
					http.StatusBadRequest,
				))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"idempotency_read_body_failed",
					"unable to read request body",
					http.StatusInternalServerError,
				))
				return
			}

			requester := requesterID(r)
			scoped := requester + "\x00" + key
			hash := payloadHash(r, requester, body)
			now := cfg.now().UTC()

			outcome, err := store.Begin(r.Context(), scoped, hash, now, cfg.ttl)
			if err != nil {
				writeStoreError(w, r, cfg.logger, err)
				return
			}

			switch {
			case outcome.Replay != nil:
				replay(w, outcome.Replay)
				return
			case outcome.InFlight:
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"idempotency_in_progress",
					"another request with this idempotency key is still running",
					http.StatusConflict,
				))
				return
			}

			capture := newCapture()
			next.ServeHTTP(capture, r)

			recorded := StoredResponse{
				Status: capture.status(),
				Header: capture.header.Clone(),
				Body:   capture.body.Bytes(),
			}
			if err := store.Complete(r.Context(), scoped, hash, recorded, cfg.now().UTC(), cfg.ttl); err != nil {
				if cfg.logger != nil {
					cfg.logger.Printf("idempotency: persist failed for key %q: %v", key, err)
				}
				if abandonErr := store.Abandon(r.Context(), scoped, hash); abandonErr != nil && cfg.logger != nil {
					cfg.logger.Printf("idempotency: abandon failed for key %q: %v", key, abandonErr)
				}
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"idempotency_store_error",
					"unable to persist idempotency state",
					http.StatusInternalServerError,
				))
				return
			}

			capture.flush(w)
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requesterID scopes keys per caller so one user cannot replay another's
// responses by guessing their key.
func requesterID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

func payloadHash(r *http.Request, requester string, body []byte) string {
	return digest(
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		string(body),
	)
}

func writeStoreError(w http.ResponseWriter, r *http.Request, logger Logger, err error) {
	if errors.Is(err, ErrPayloadMismatch) {
		httpx.WriteError(r.Context(), w, httpx.NewError(
			"idempotency_key_conflict",
			"idempotency key already used for a different request",
			http.StatusConflict,
		))
		return
	}
	if logger != nil {
		logger.Printf("idempotency: store error: %v", err)
	}
	httpx.WriteError(r.Context(), w, httpx.NewError(
		"idempotency_store_error",
		"unable to process idempotency key",
		http.StatusInternalServerError,
	))
}

func replay(w http.ResponseWriter, resp *StoredResponse) {
	h := w.Header()
	for name := range h {
		h.Del(name)
	}
	for name, values := range resp.Header {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	h.Set(replayHeader, "true")

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

// capture buffers the downstream response so it can be persisted before the
// client sees it.
type capture struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
}

func newCapture() *capture {
	return &capture{header: make(http.Header)}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.statusCode == 0 && status > 0 {
		c.statusCode = status
	}
}

func (c *capture) Write(data []byte) (int, error) {
	if c.statusCode == 0 {
		c.statusCode = http.StatusOK
	}
	return c.body.Write(data)
}

func (c *capture) status() int {
	if c.statusCode == 0 {
		return http.StatusOK
	}
	return c.statusCode
}

func (c *capture) flush(w http.ResponseWriter) {
	dst := w.Header()
	for name := range dst {
		dst.Del(name)
	}
	for name, values := range c.header {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	w.WriteHeader(c.status())
	if c.body.Len() > 0 {
		w.Write(c.body.Bytes())
	}
}
