package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadWith(t *testing.T, env map[string]string, extra ...Option) (Config, error) {
	t.Helper()
	opts := append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, extra...)
	return Load(context.Background(), opts...)
}

func mapResolver(secrets map[string]string) SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret " + ref)
	})
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := loadWith(t, map[string]string{"API_FIREBASE_PROJECT_ID": "vesoko-dev"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server port", cfg.Server.Port, defaultPort},
		{"read timeout", cfg.Server.ReadTimeout, defaultReadTimeout},
		{"write timeout", cfg.Server.WriteTimeout, defaultWriteTimeout},
		{"firestore project inherits firebase", cfg.Firestore.ProjectID, "vesoko-dev"},
		{"default rate limit", cfg.RateLimits.DefaultPerMinute, defaultRateLimitDefault},
		{"auth rate limit", cfg.RateLimits.AuthenticatedPerMinute, defaultRateLimitAuth},
		{"security environment", cfg.Security.Environment, defaultSecurityEnvironment},
		{"shipping parallelism", cfg.Shipping.Parallelism, defaultShippingParallelism},
		{"same-day radius", cfg.Geo.SameDayRadiusMiles, defaultSameDayRadiusMiles},
		{"commission rate", cfg.Fees.CommissionRate, defaultCommissionRate},
		{"stripe percentage", cfg.Fees.StripePercentageRate, defaultStripePercentageRate},
		{"stripe fixed fee", cfg.Fees.StripeFixedFee, defaultStripeFixedFee},
		{"fee model", cfg.Fees.DefaultModel, defaultFeeModel},
		{"same-day flag", cfg.Features.EnableSameDayDelivery, true},
		{"settlement flag", cfg.Features.EnableSettlementEvent, true},
		{"idempotency header", cfg.Idempotency.Header, defaultIdempotencyHeader},
		{"idempotency ttl", cfg.Idempotency.TTL, defaultIdempotencyTTL},
		{"cleanup batch", cfg.Idempotency.CleanupBatchSize, defaultIdempotencyBatchSize},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadReadsOverridesAndResolvesSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_FIREBASE_PROJECT_ID":          "vesoko-prod",
		"API_FIRESTORE_PROJECT_ID":         "vesoko-fire",
		"API_PSP_STRIPE_API_KEY":           "secret://stripe/api",
		"API_SHIPPING_SHIPPO_API_TOKEN":    "secret://shippo/token",
		"API_SHIPPING_UBER_API_TOKEN":      "uber-token",
		"API_SHIPPING_PARALLELISM":         "8",
		"API_SHIPPING_CALL_TIMEOUT":        "12s",
		"API_GEO_GOOGLE_MAPS_API_KEY":      "secret://maps/key",
		"API_GEO_SAME_DAY_RADIUS_MILES":    "15",
		"API_FEES_COMMISSION_RATE":         "0.12",
		"API_FEES_DEFAULT_MODEL":           "Absorb",
		"API_EVENTS_SETTLEMENT_TOPIC":      "checkout-settlements",
		"API_FEATURE_SAME_DAY_DELIVERY":    "false",
		"API_IDEMPOTENCY_TTL":              "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}
	resolver := mapResolver(map[string]string{
		"secret://stripe/api":   "stripe-key",
		"secret://shippo/token": "shippo-token",
		"secret://maps/key":     "maps-key",
	})

	cfg, err := loadWith(t, env, WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("server overrides not applied: %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "vesoko-fire" {
		t.Errorf("explicit firestore project lost: %s", cfg.Firestore.ProjectID)
	}
	if cfg.PSP.StripeAPIKey != "stripe-key" {
		t.Errorf("stripe key not resolved: %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.Shipping.ShippoAPIToken != "shippo-token" || cfg.Shipping.UberAPIToken != "uber-token" {
		t.Errorf("shipping credentials wrong: %+v", cfg.Shipping)
	}
	if cfg.Shipping.Parallelism != 8 || cfg.Shipping.CallTimeout != 12*time.Second {
		t.Errorf("shipping tuning wrong: %+v", cfg.Shipping)
	}
	if cfg.Geo.GoogleMapsAPIKey != "maps-key" || cfg.Geo.SameDayRadiusMiles != 15 {
		t.Errorf("geo config wrong: %+v", cfg.Geo)
	}
	if cfg.Fees.CommissionRate != 0.12 || cfg.Fees.DefaultModel != "absorb" {
		t.Errorf("fees config wrong: %+v", cfg.Fees)
	}
	if cfg.Events.SettlementTopic != "checkout-settlements" {
		t.Errorf("settlement topic wrong: %s", cfg.Events.SettlementTopic)
	}
	if cfg.Features.EnableSameDayDelivery {
		t.Error("same-day flag should be disabled")
	}
	if cfg.Idempotency.TTL != 48*time.Hour || cfg.Idempotency.CleanupInterval != 30*time.Minute || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("idempotency config wrong: %+v", cfg.Idempotency)
	}
}

func TestLoadFallsBackToDotEnv(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=\"vesoko-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("port from dotenv lost: %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "vesoko-dot" {
		t.Errorf("quoted dotenv value mishandled: %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Run("missing firebase project", func(t *testing.T) {
		_, err := loadWith(t, map[string]string{})
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		found := false
		for _, field := range validation.Fields() {
			if field == "Firebase.ProjectID" {
				found = true
			}
		}
		if !found {
			t.Fatalf("Firebase.ProjectID not reported: %v", validation.Fields())
		}
	})

	t.Run("invalid fee policy", func(t *testing.T) {
		_, err := loadWith(t, map[string]string{
			"API_FIREBASE_PROJECT_ID":         "vesoko-dev",
			"API_FEES_STRIPE_PERCENTAGE_RATE": "1.5",
			"API_FEES_DEFAULT_MODEL":          "split",
		})
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		want := map[string]bool{"Fees.StripePercentageRate": false, "Fees.DefaultModel": false}
		for _, field := range validation.Fields() {
			if _, ok := want[field]; ok {
				want[field] = true
			}
		}
		for field, seen := range want {
			if !seen {
				t.Errorf("field %s not reported in %v", field, validation.Fields())
			}
		}
	})
}

func TestLoadWithoutResolverRejectsSecretReference(t *testing.T) {
	_, err := loadWith(t, map[string]string{
		"API_FIREBASE_PROJECT_ID": "vesoko-dev",
		"API_PSP_STRIPE_API_KEY":  "secret://missing",
	})

	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected ref %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestLoadAcceptsLegacySecretScheme(t *testing.T) {
	cfg, err := loadWith(t, map[string]string{
		"API_FIREBASE_PROJECT_ID":       "vesoko-dev",
		"API_SHIPPING_SHIPPO_API_TOKEN": "sm://shippo/token",
	}, WithSecretResolver(mapResolver(map[string]string{
		"secret://shippo/token": "legacy-token",
	})))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shipping.ShippoAPIToken != "legacy-token" {
		t.Errorf("legacy reference not resolved: %s", cfg.Shipping.ShippoAPIToken)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://stripe/api=5",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Errorf("override should win, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Errorf("dotenv value lost, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Errorf("system env value lost, got %s", got)
	}
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://stripe/api=5" {
		t.Errorf("override pin lost, got %s", got)
	}
}

func TestLoadRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "vesoko-dev"}

	t.Run("returns error", func(t *testing.T) {
		_, err := loadWith(t, env, WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeAPIKey", " "))
		var missing *MissingSecretsError
		if !errors.As(err, &missing) {
			t.Fatalf("expected MissingSecretsError, got %v", err)
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeAPIKey" {
			t.Fatalf("unexpected names %v", names)
		}
		if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] != redactSecretName("PSP.StripeAPIKey") {
			t.Fatalf("unexpected redacted names %v", redacted)
		}
	})

	t.Run("panics when asked", func(t *testing.T) {
		defer func() {
			rec := recover()
			if _, ok := rec.(*MissingSecretsError); !ok {
				t.Fatalf("expected MissingSecretsError panic, got %v", rec)
			}
		}()
		loadWith(t, env, WithRequiredSecrets("PSP.StripeAPIKey"), WithPanicOnMissingSecrets())
	})

	t.Run("satisfied secret passes", func(t *testing.T) {
		withKey := map[string]string{
			"API_FIREBASE_PROJECT_ID": "vesoko-dev",
			"API_PSP_STRIPE_API_KEY":  "secret://stripe/api",
		}
		cfg, err := loadWith(t, withKey,
			WithRequiredSecrets("PSP.StripeAPIKey"),
			WithSecretResolver(mapResolver(map[string]string{"secret://stripe/api": "sk_live"})),
		)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.PSP.StripeAPIKey != "sk_live" {
			t.Fatalf("key not resolved: %s", cfg.PSP.StripeAPIKey)
		}
	})
}
