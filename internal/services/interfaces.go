package services

import (
	"context"
	"time"

	domain "github.com/vesoko/marketplace-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart                  = domain.Cart
	CartLine              = domain.CartLine
	Store                 = domain.Store
	Address               = domain.Address
	SellerGroup           = domain.SellerGroup
	GroupedCart           = domain.GroupedCart
	ParcelSpec            = domain.ParcelSpec
	ShippingOption        = domain.ShippingOption
	ShippingGroup         = domain.ShippingGroup
	ShippingOptionsResult = domain.ShippingOptionsResult
	FeePolicy             = domain.FeePolicy
	FeeBreakdown          = domain.FeeBreakdown
	SubOrder              = domain.SubOrder
	MultiSellerSettlement = domain.MultiSellerSettlement
)

// ShippingService quotes delivery options for the current cart, one group per seller.
type ShippingService interface {
	GetShippingOptions(ctx context.Context, cmd GetShippingOptionsCommand) (ShippingOptionsResult, error)
}

// CheckoutService settles the cart across sellers and opens a PSP session for the buyer total.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
}

// CreateCheckoutSessionCommand captures the inputs for opening a checkout session.
type CreateCheckoutSessionCommand struct {
	UserID     string
	CartID     string
	SuccessURL string
	CancelURL  string
	// FeeModel selects how processing fees are settled; empty means the configured default.
	FeeModel string
	// ShippingSelections maps seller IDs to the shipping price the buyer picked for that group.
	ShippingSelections map[string]float64
	Metadata           map[string]string
}

// CheckoutSession is the service-level view of a created PSP session plus its settlement.
type CheckoutSession struct {
	SessionID    string
	PSP          string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time
	Settlement   MultiSellerSettlement
}

// SettlementComputedMessage is the payload published after a checkout settlement is computed.
type SettlementComputedMessage struct {
	CartID               string    `json:"cartId"`
	UserID               string    `json:"userId"`
	CheckoutSessionID    string    `json:"checkoutSessionId"`
	FeeModel             string    `json:"feeModel"`
	CustomerTotal        float64   `json:"customerTotal"`
	TotalSellerPayouts   float64   `json:"totalSellerPayouts"`
	TotalPlatformRevenue float64   `json:"totalPlatformRevenue"`
	SellerIDs            []string  `json:"sellerIds"`
	ComputedAt           time.Time `json:"computedAt"`
}

// SettlementPublisher emits settlement events for downstream consumers.
type SettlementPublisher interface {
	PublishSettlementComputed(ctx context.Context, message SettlementComputedMessage) (string, error)
}
