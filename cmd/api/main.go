package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vesoko/marketplace-api/internal/di"
	"github.com/vesoko/marketplace-api/internal/geo"
	"github.com/vesoko/marketplace-api/internal/handlers"
	"github.com/vesoko/marketplace-api/internal/payments"
	"github.com/vesoko/marketplace-api/internal/platform/auth"
	"github.com/vesoko/marketplace-api/internal/platform/config"
	pfirestore "github.com/vesoko/marketplace-api/internal/platform/firestore"
	"github.com/vesoko/marketplace-api/internal/platform/idempotency"
	"github.com/vesoko/marketplace-api/internal/platform/jobs"
	"github.com/vesoko/marketplace-api/internal/platform/observability"
	"github.com/vesoko/marketplace-api/internal/platform/secrets"
	firestoreRepo "github.com/vesoko/marketplace-api/internal/repositories/firestore"
	"github.com/vesoko/marketplace-api/internal/shipping"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("environment not readable", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("secret fetcher setup failed", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("required secrets unresolved", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("configuration invalid", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("firestore dial failed", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("repository registry setup failed", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	stopCleanup := startIdempotencyCleanup(logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("firebase verifier setup failed", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: eventLogger(logger.Named("payments")),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("stripe provider setup failed", zap.Error(err))
	}

	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("payment manager setup failed", zap.Error(err))
	}

	shippoProvider, err := shipping.NewShippoProvider(shipping.ShippoProviderConfig{
		APIToken:    cfg.Shipping.ShippoAPIToken,
		CallTimeout: cfg.Shipping.CallTimeout,
		Logger:      eventLogger(logger.Named("shippo")),
	})
	if err != nil {
		logger.Fatal("shippo provider setup failed", zap.Error(err))
	}

	providers := di.Providers{
		Rates:    shippoProvider,
		Payments: paymentManager,
	}

	if cfg.Features.EnableSameDayDelivery {
		courier, distance, err := buildSameDayProviders(logger, cfg)
		if err != nil {
			logger.Fatal("same-day providers setup failed", zap.Error(err))
		}
		providers.Courier = courier
		providers.Distance = distance
	}

	var pubsubClient *pubsub.Client
	if cfg.Features.EnableSettlementEvent && strings.TrimSpace(cfg.Events.SettlementTopic) != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Firebase.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client setup failed", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewPubSubSettlementPublisher(pubsubClient.Topic(cfg.Events.SettlementTopic))
		if err != nil {
			logger.Fatal("settlement publisher setup failed", zap.Error(err))
		}
		providers.Publisher = publisher
	}

	container, err := di.NewContainer(ctx, cfg, registry, providers, logger)
	if err != nil {
		logger.Fatal("failed to assemble container", zap.Error(err))
	}

	shippingHandlers := handlers.NewShippingHandlers(authenticator, container.Services.Shipping)
	feeHandlers := handlers.NewFeeHandlers(container.Services.Fees)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, container.Services.Checkout)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithReadinessCheck("firestore", firestoreReadinessCheck(firestoreClient)),
		handlers.WithReadinessCheck("secretManager", secretReadinessCheck(fetcher)),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	checkoutMiddlewares := []func(http.Handler) http.Handler{idempotencyMiddleware}
	if rateLimit := handlers.NewRateLimitMiddleware(handlers.RateLimitOptions{
		DefaultPerMinute:       cfg.RateLimits.DefaultPerMinute,
		AuthenticatedPerMinute: cfg.RateLimits.AuthenticatedPerMinute,
	}); rateLimit != nil {
		checkoutMiddlewares = append([]func(http.Handler) http.Handler{rateLimit}, checkoutMiddlewares...)
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutMiddlewares(checkoutMiddlewares...),
		handlers.WithCheckoutRoutes(func(r chi.Router) {
			shippingHandlers.Routes(r)
			feeHandlers.Routes(r)
			checkoutHandlers.Routes(r)
		}),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("marketplace api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopCleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// startIdempotencyCleanup periodically sweeps expired idempotency records.
// The returned stop function blocks until the sweeper has exited.
func startIdempotencyCleanup(logger *zap.Logger, store *idempotency.FirestoreStore, cfg config.IdempotencyConfig) func() {
	if cfg.CleanupInterval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(cfg.CleanupInterval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				runCtx, runCancel := context.WithTimeout(ctx, time.Minute)
				removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
				runCancel()
				switch {
				case err != nil:
					logger.Error("cleanup sweep failed", zap.Error(err))
				case removed > 0:
					logger.Info("cleanup removed expired keys", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		cancel()
		<-done
	}
}

func buildSameDayProviders(logger *zap.Logger, cfg config.Config) (*shipping.UberProvider, *geo.DistanceChecker, error) {
	courier, err := shipping.NewUberProvider(shipping.UberProviderConfig{
		AccessToken: cfg.Shipping.UberAPIToken,
		CustomerID:  cfg.Shipping.UberCustomerID,
		CallTimeout: cfg.Shipping.CallTimeout,
		Logger:      eventLogger(logger.Named("uber")),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("uber provider: %w", err)
	}

	googleProvider, err := geo.NewGoogleProvider(geo.GoogleProviderConfig{
		APIKey:      cfg.Geo.GoogleMapsAPIKey,
		CallTimeout: cfg.Geo.CallTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("google geo provider: %w", err)
	}

	distance, err := geo.NewDistanceChecker(geo.DistanceCheckerDeps{
		Geocoder:       googleProvider,
		Routes:         googleProvider,
		ThresholdMiles: cfg.Geo.SameDayRadiusMiles,
		Logger:         eventLogger(logger.Named("geo")),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("distance checker: %w", err)
	}

	return courier, distance, nil
}

func eventLogger(scoped *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		scoped.Debug("provider log", zFields...)
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func firestoreReadinessCheck(client *firestore.Client) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		iter := client.Collections(ctx)
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}
}

func secretReadinessCheck(fetcher *secrets.Fetcher) handlers.ReadinessCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return func(ctx context.Context) error {
		_, err := fetcher.Resolve(ctx, secretHealthReference)
		if err == nil {
			return nil
		}
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil
		}
		return err
	}
}

func traceProjectID(cfg config.Config) string {
	if project := strings.TrimSpace(cfg.Firestore.ProjectID); project != "" {
		return project
	}
	return strings.TrimSpace(cfg.Firebase.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(env[key]); v != "" {
			return v
		}
		return fallback
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(strings.ToLower(get("API_SECURITY_ENVIRONMENT", "local"))),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(get("API_SECRET_FALLBACK_FILE", ".secrets.local")),
	}
	if projects := envPairs(env["API_SECRET_PROJECT_IDS"], strings.ToLower); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if project := get("API_SECRET_DEFAULT_PROJECT_ID", get("API_FIREBASE_PROJECT_ID", "")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if pins := envPairs(env["API_SECRET_VERSION_PINS"], normalizePinRef); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if creds := get("API_FIREBASE_CREDENTIALS_FILE", ""); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"PSP.StripeAPIKey",
		"Shipping.ShippoAPIToken",
	}
	if env != nil && parseBool(env["API_FEATURE_SAME_DAY_DELIVERY"]) {
		required = append(required,
			"Shipping.UberAPIToken",
			"Geo.GoogleMapsAPIKey",
		)
	}
	return required
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// envPairs parses comma separated "key=value" lists from the environment,
// normalising each key. Entries with a blank key or value are dropped.
func envPairs(raw string, normalizeKey func(string) string) map[string]string {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = normalizeKey(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pairs[key] = value
	}
	return pairs
}

// normalizePinRef canonicalises a version pin key. Pins may be scoped by
// environment ("prod:secret://stripe/api"), use the legacy sm:// scheme, or
// omit the scheme entirely.
func normalizePinRef(ref string) string {
	prefix := ""
	if scope, rest, ok := strings.Cut(ref, ":"); ok && !strings.HasPrefix(rest, "//") {
		prefix = strings.ToLower(strings.TrimSpace(scope)) + ":"
		ref = strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	} else if !strings.HasPrefix(ref, "secret://") {
		ref = "secret://" + ref
	}
	return prefix + ref
}
