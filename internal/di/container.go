package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vesoko/marketplace-api/internal/domain"
	"github.com/vesoko/marketplace-api/internal/geo"
	"github.com/vesoko/marketplace-api/internal/payments"
	"github.com/vesoko/marketplace-api/internal/platform/config"
	"github.com/vesoko/marketplace-api/internal/repositories"
	"github.com/vesoko/marketplace-api/internal/services"
	"github.com/vesoko/marketplace-api/internal/shipping"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Grouper  *services.SellerGrouper
	Fees     *services.FeeEngine
	Shipping services.ShippingService
	Checkout services.CheckoutService
}

// Providers carries the external integrations the services are built on. Rates and
// Payments are required; Courier and Distance enable same-day delivery when both are
// set, and Publisher enables the settlement event when set.
type Providers struct {
	Rates     shipping.RateProvider
	Courier   shipping.CourierProvider
	Distance  *geo.DistanceChecker
	Payments  *payments.Manager
	Publisher services.SettlementPublisher
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries and fake providers.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, providers Providers, logger *zap.Logger) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(cfg, reg, providers, logger)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, providers Providers, logger *zap.Logger) (Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var svc Services

	svc.Grouper = services.NewSellerGrouper(namedLogger(logger, "grouper"))

	fees, err := services.NewFeeEngine(domain.FeePolicy{
		PlatformFeePercentage: cfg.Fees.CommissionRate,
		StripePercentageFee:   cfg.Fees.StripePercentageRate,
		StripeFixedFee:        cfg.Fees.StripeFixedFee,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fee engine: %w", err)
	}
	svc.Fees = fees

	if providers.Rates != nil && reg.Stores() != nil {
		deps := services.ShippingServiceDeps{
			Rates:       providers.Rates,
			Stores:      reg.Stores(),
			Grouper:     svc.Grouper,
			Parallelism: cfg.Shipping.Parallelism,
			Clock:       time.Now,
			Logger:      namedLogger(logger, "shipping"),
		}
		if cfg.Features.EnableSameDayDelivery && providers.Courier != nil && providers.Distance != nil {
			deps.Courier = providers.Courier
			deps.Distance = providers.Distance
		}
		shippingSvc, err := services.NewShippingService(deps)
		if err != nil {
			return Services{}, fmt.Errorf("build shipping service: %w", err)
		}
		svc.Shipping = shippingSvc
	}

	if providers.Payments != nil && reg.Carts() != nil {
		deps := services.CheckoutServiceDeps{
			Carts:           reg.Carts(),
			Grouper:         svc.Grouper,
			Fees:            svc.Fees,
			Payments:        providers.Payments,
			DefaultFeeModel: domain.FeeModel(cfg.Fees.DefaultModel),
			Clock:           time.Now,
			Logger:          namedLogger(logger, "checkout"),
		}
		if cfg.Features.EnableSettlementEvent && providers.Publisher != nil {
			deps.Publisher = providers.Publisher
		}
		checkoutSvc, err := services.NewCheckoutService(deps)
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	return svc, nil
}

func namedLogger(logger *zap.Logger, name string) func(ctx context.Context, event string, fields map[string]any) {
	scoped := logger.Named(name)
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		scoped.Debug("service log", zFields...)
	}
}
