// Package config loads runtime configuration from the environment, an
// optional dotenv file, and Secret Manager references.
package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRateLimitDefault     = 120
	defaultRateLimitAuth        = 240
	defaultSecurityEnvironment  = "local"
	defaultShippingParallelism  = 4
	defaultShippingCallTimeout  = 10 * time.Second
	defaultGeoCallTimeout       = 5 * time.Second
	defaultSameDayRadiusMiles   = 10.0
	defaultCommissionRate       = 0.10
	defaultStripePercentageRate = 0.029
	defaultStripeFixedFee       = 0.30
	defaultFeeModel             = "gross-up"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PSP         PSPConfig
	Shipping    ShippingConfig
	Geo         GeoConfig
	Fees        FeesConfig
	Events      EventsConfig
	RateLimits  RateLimitConfig
	Features    FeatureFlags
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey     string
	StripeSuccessURL string
	StripeCancelURL  string
}

// ShippingConfig holds carrier and courier credentials plus quote tuning.
type ShippingConfig struct {
	ShippoAPIToken string
	UberAPIToken   string
	UberCustomerID string
	Parallelism    int
	CallTimeout    time.Duration
}

// GeoConfig controls geocoding and distance lookups.
type GeoConfig struct {
	GoogleMapsAPIKey   string
	SameDayRadiusMiles float64
	CallTimeout        time.Duration
}

// FeesConfig defines the marketplace settlement policy.
type FeesConfig struct {
	CommissionRate       float64
	StripePercentageRate float64
	StripeFixedFee       float64
	DefaultModel         string
}

// EventsConfig names the Pub/Sub topics the service publishes to.
type EventsConfig struct {
	SettlementTopic string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableSameDayDelivery bool
	EnableSettlementEvent bool
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves secret:// references to their values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*settings)

type settings struct {
	envFile         string
	overrides       map[string]string
	skipSystemEnv   bool
	resolver        SecretResolver
	requiredSecrets []string
	panicOnMissing  bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(s *settings) { s.envFile = path }
}

// WithEnvMap injects explicit key/value overrides that win over both the
// system environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(s *settings) { s.overrides = values }
}

// WithoutSystemEnv ignores the process environment, relying only on the
// dotenv file and explicit overrides.
func WithoutSystemEnv() Option {
	return func(s *settings) { s.skipSystemEnv = true }
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(s *settings) { s.resolver = resolver }
}

// WithRequiredSecrets marks config fields that must hold a non-empty secret
// after loading, named by their field path (e.g. "PSP.StripeAPIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(s *settings) { s.requiredSecrets = append(s.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets causes Load to panic instead of returning the
// MissingSecretsError. Used at process start where continuing is pointless.
func WithPanicOnMissingSecrets() Option {
	return func(s *settings) { s.panicOnMissing = true }
}

func newSettings(opts []Option) settings {
	s := settings{envFile: defaultEnvFile}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// env is the merged key/value view Load reads from.
type env map[string]string

func (e env) str(key, fallback string) string {
	if v := e[key]; v != "" {
		return v
	}
	return fallback
}

func (e env) dur(key string, fallback time.Duration) time.Duration {
	if v := e[key]; v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) num(key string, fallback int) int {
	if v := e[key]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) real(key string, fallback float64) float64 {
	if v := e[key]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (e env) flag(key string, fallback bool) bool {
	switch strings.ToLower(e[key]) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

// EnvironmentValues returns the merged key/value environment after applying
// the same precedence as Load: dotenv, then the process environment, then
// explicit overrides. Callers use it to initialise dependencies (such as the
// secret fetcher) before invoking Load itself.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	values, err := mergedEnv(newSettings(opts))
	if err != nil {
		return nil, err
	}
	return values, nil
}

func mergedEnv(s settings) (env, error) {
	values := make(env)

	dotenv, err := parseDotEnv(s.envFile)
	if err != nil {
		return nil, err
	}
	for key, value := range dotenv {
		values[key] = value
	}

	if !s.skipSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}

	for key, value := range s.overrides {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration from defaults, the dotenv
// file, the environment, and secret references, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	s := newSettings(opts)

	values, err := mergedEnv(s)
	if err != nil {
		return Config{}, err
	}

	cfg := buildConfig(values)
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	resolved, err := resolveSecretFields(ctx, &cfg, s.resolver)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if missing := checkRequiredSecrets(s.requiredSecrets, resolved); missing != nil {
		if s.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func buildConfig(values env) Config {
	return Config{
		Server: ServerConfig{
			Port:         values.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  values.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: values.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  values.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       values.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: values.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    values.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: values.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:     values.str("API_PSP_STRIPE_API_KEY", ""),
			StripeSuccessURL: values.str("API_PSP_STRIPE_SUCCESS_URL", ""),
			StripeCancelURL:  values.str("API_PSP_STRIPE_CANCEL_URL", ""),
		},
		Shipping: ShippingConfig{
			ShippoAPIToken: values.str("API_SHIPPING_SHIPPO_API_TOKEN", ""),
			UberAPIToken:   values.str("API_SHIPPING_UBER_API_TOKEN", ""),
			UberCustomerID: values.str("API_SHIPPING_UBER_CUSTOMER_ID", ""),
			Parallelism:    values.num("API_SHIPPING_PARALLELISM", defaultShippingParallelism),
			CallTimeout:    values.dur("API_SHIPPING_CALL_TIMEOUT", defaultShippingCallTimeout),
		},
		Geo: GeoConfig{
			GoogleMapsAPIKey:   values.str("API_GEO_GOOGLE_MAPS_API_KEY", ""),
			SameDayRadiusMiles: values.real("API_GEO_SAME_DAY_RADIUS_MILES", defaultSameDayRadiusMiles),
			CallTimeout:        values.dur("API_GEO_CALL_TIMEOUT", defaultGeoCallTimeout),
		},
		Fees: FeesConfig{
			CommissionRate:       values.real("API_FEES_COMMISSION_RATE", defaultCommissionRate),
			StripePercentageRate: values.real("API_FEES_STRIPE_PERCENTAGE_RATE", defaultStripePercentageRate),
			StripeFixedFee:       values.real("API_FEES_STRIPE_FIXED_FEE", defaultStripeFixedFee),
			DefaultModel:         strings.ToLower(values.str("API_FEES_DEFAULT_MODEL", defaultFeeModel)),
		},
		Events: EventsConfig{
			SettlementTopic: values.str("API_EVENTS_SETTLEMENT_TOPIC", ""),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       values.num("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: values.num("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
		},
		Features: FeatureFlags{
			EnableSameDayDelivery: values.flag("API_FEATURE_SAME_DAY_DELIVERY", true),
			EnableSettlementEvent: values.flag("API_FEATURE_SETTLEMENT_EVENT", true),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(values.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
		Idempotency: IdempotencyConfig{
			Header:           values.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              values.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  values.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: values.num("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
}

// resolveSecretFields rewrites any field holding a secret reference with the
// resolved value and reports all credential fields by their path.
func resolveSecretFields(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	fields := map[string]*string{
		"PSP.StripeAPIKey":        &cfg.PSP.StripeAPIKey,
		"Shipping.ShippoAPIToken": &cfg.Shipping.ShippoAPIToken,
		"Shipping.UberAPIToken":   &cfg.Shipping.UberAPIToken,
		"Geo.GoogleMapsAPIKey":    &cfg.Geo.GoogleMapsAPIKey,
	}

	resolved := make(map[string]string, len(fields))
	for name, field := range fields {
		value, err := resolveSecretValue(ctx, *field, resolver)
		if err != nil {
			return nil, err
		}
		*field = value
		resolved[name] = strings.TrimSpace(value)
	}
	return resolved, nil
}

func resolveSecretValue(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref, ok := secretReference(value)
	if !ok {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// secretReference reports whether value points at Secret Manager, returning
// the canonical secret:// form. The sm:// scheme is accepted for older
// deployment manifests.
func secretReference(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest, true
	}
	if strings.HasPrefix(trimmed, "secret://") {
		return trimmed, true
	}
	return "", false
}

func (c Config) validate() error {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(c.Server.Port != "", "Server.Port")
	check(c.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(c.Shipping.Parallelism > 0, "Shipping.Parallelism")
	check(c.Geo.SameDayRadiusMiles > 0, "Geo.SameDayRadiusMiles")
	check(c.Fees.CommissionRate >= 0 && c.Fees.CommissionRate < 1, "Fees.CommissionRate")
	check(c.Fees.StripePercentageRate >= 0 && c.Fees.StripePercentageRate < 1, "Fees.StripePercentageRate")
	check(c.Fees.StripeFixedFee >= 0, "Fees.StripeFixedFee")
	check(c.Fees.DefaultModel == "gross-up" || c.Fees.DefaultModel == "absorb", "Fees.DefaultModel")
	check(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	check(c.Idempotency.TTL > 0, "Idempotency.TTL")
	check(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

// ValidationError reports configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field paths.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a failure while resolving one secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to nothing. Error
// output only carries redacted identifiers so logs never name credentials.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

func (e *MissingSecretsError) Error() string {
	names := e.RedactedNames()
	if len(names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns the sorted redacted identifiers of the missing secrets.
func (e *MissingSecretsError) RedactedNames() []string {
	return e.collect(func(s missingSecret) string { return s.redacted })
}

// Names returns the sorted field paths of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	return e.collect(func(s missingSecret) string { return s.name })
}

func (e *MissingSecretsError) collect(pick func(missingSecret) string) []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, pick(secret))
	}
	sort.Strings(out)
	return out
}

func checkRequiredSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []missingSecret
	seen := make(map[string]struct{}, len(required))
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] != "" {
			continue
		}
		missing = append(missing, missingSecret{name: name, redacted: redactSecretName(name)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func parseDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "export "); ok {
			line = strings.TrimSpace(rest)
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
