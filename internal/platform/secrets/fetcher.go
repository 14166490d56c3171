// Package secrets resolves secret:// references against Google Secret
// Manager. Resolved values are cached for the process lifetime, and a local
// KEY=VALUE file can stand in for Secret Manager during development or when
// access is degraded.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment = "local"
	defaultLocalFile   = ".secrets.local"
	meterScope         = "github.com/vesoko/marketplace-api/internal/platform/secrets"
)

// managerClient is the slice of the Secret Manager API the fetcher needs.
type managerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Swapped out in tests to avoid dialling Google during construction.
var dialManager = func(ctx context.Context, opts ...option.ClientOption) (managerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type cacheKey struct {
	canonical string
	version   string
}

type cachedValue struct {
	value      string
	source     string
	resolvedAt time.Time
}

// Fetcher resolves secret references with caching and local fallback.
type Fetcher struct {
	client     managerClient
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string

	localPath string
	localOnce sync.Once
	local     map[string]string
	localErr  error

	mu    sync.RWMutex
	cache map[cacheKey]cachedValue

	duration  metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type fetcherConfig struct {
	logger     *zap.Logger
	env        string
	project    string
	projects   map[string]string
	pins       map[string]string
	localPath  string
	client     managerClient
	clientOpts []option.ClientOption
}

// Option adjusts Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithEnvironment selects which entry of the project map applies.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) {
		cfg.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject sets the GCP project used when the project map has no
// entry for the current environment.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to GCP project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.projects = cloneMap(m) }
}

// WithVersionPins pins canonical references to fixed secret versions.
// An entry keyed "env:secret://name" only applies in that environment.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.pins = cloneMap(pins) }
}

// WithFallbackFile points at the local KEY=VALUE secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.localPath = strings.TrimSpace(path) }
}

// WithManagerClient injects a prebuilt Secret Manager client, mainly for
// tests.
func WithManagerClient(client managerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards options to the Secret Manager client dial.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. When Secret Manager cannot be dialled the
// fetcher still works in local-file-only mode; secrets missing from the
// local file then fail at Resolve time.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:    zap.NewNop(),
		env:       strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		localPath: defaultLocalFile,
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	f := &Fetcher{
		logger:         cfg.logger,
		env:            cfg.env,
		defaultProject: cfg.project,
		projects:       cloneMap(cfg.projects),
		pins:           cloneMap(cfg.pins),
		localPath:      cfg.localPath,
		cache:          make(map[cacheKey]cachedValue),
	}

	meter := otel.GetMeterProvider().Meter(meterScope)
	if duration, err := meter.Float64Histogram(
		"secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	); err == nil {
		f.duration = duration
	} else {
		cfg.logger.Warn("secrets: duration metric unavailable", zap.Error(err))
	}
	if hits, err := meter.Int64Counter(
		"secrets.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from the in-process cache"),
	); err == nil {
		f.cacheHits = hits
	} else {
		cfg.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
	}

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}

	client, err := dialManager(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager unavailable, using local secrets only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the Secret Manager client if the fetcher dialled it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret:// reference.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}

	version := f.pinnedVersion(ref)
	key := cacheKey{canonical: ref.canonical, version: version}

	if value, ok := f.fromCache(key); ok {
		f.countCacheHit(ctx, ref)
		f.observe(ctx, start, "cache")
		return value, nil
	}

	project := f.projectFor(ref)
	if project != "" && f.client != nil {
		value, err := f.access(ctx, project, ref.name, version)
		if err == nil {
			f.remember(key, value, "secret-manager")
			f.observe(ctx, start, "secret-manager")
			return value, nil
		}
		if !accessDegraded(err) {
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: resolve %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: secret manager degraded, trying local file",
			zap.String("secret", fingerprint(ref.canonical)),
			zap.Error(err),
		)
	}

	value, ok := f.fromLocal(ref, version)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value available for %s", ref.canonical)
	}
	f.remember(key, value, "local")
	f.observe(ctx, start, "local")
	return value, nil
}

// Invalidate drops cached values for a reference, forcing the next Resolve
// to fetch again. Used after secret rotation.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	for key := range f.cache {
		if key.canonical == ref.canonical {
			delete(f.cache, key)
		}
	}
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", errors.New("empty payload from secret manager")
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projects[f.env]); id != "" {
		return id
	}
	return f.defaultProject
}

func (f *Fetcher) pinnedVersion(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	if pin := strings.TrimSpace(f.pins[f.env+":"+ref.canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.pins[ref.canonical]); pin != "" {
		return pin
	}
	return "latest"
}

func (f *Fetcher) fromCache(key cacheKey) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.value, ok
}

func (f *Fetcher) remember(key cacheKey, value, source string) {
	f.mu.Lock()
	f.cache[key] = cachedValue{value: value, source: source, resolvedAt: time.Now()}
	f.mu.Unlock()
}

func (f *Fetcher) fromLocal(ref reference, version string) (string, bool) {
	f.localOnce.Do(func() {
		f.local, f.localErr = loadLocalSecrets(f.localPath)
		if f.localErr != nil {
			f.logger.Warn("secrets: local secrets unavailable", zap.Error(f.localErr))
			f.local = map[string]string{}
		}
	})

	if value, ok := f.local[ref.canonical+"@"+version]; ok {
		return value, true
	}
	value, ok := f.local[ref.canonical]
	return value, ok
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.duration == nil {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) countCacheHit(ctx context.Context, ref reference) {
	if f.cacheHits == nil {
		return
	}
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", fingerprint(ref.canonical))))
}

// accessDegraded reports whether the Secret Manager failure is one where the
// local file should stand in. NotFound is deliberately excluded, a missing
// secret is a configuration error the fallback must not paper over.
func accessDegraded(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// fingerprint keeps secret names out of logs and metric labels.
func fingerprint(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
