// Package shipping defines the provider contracts for carrier rate shopping
// and same-day courier quoting, plus adapters for the external APIs the
// platform ships with.
package shipping

import (
	"context"
	"errors"
	"time"

	domain "github.com/vesoko/marketplace-api/internal/domain"
)

// ErrProviderUnavailable is returned when a provider call fails after
// retries. Callers absorb it at the smallest possible scope and degrade to
// "no options from this provider".
var ErrProviderUnavailable = errors.New("shipping: provider unavailable")

// RateRequest asks a rate-shopping provider for carrier rates on a single
// parcel between two addresses.
type RateRequest struct {
	AddressFrom domain.Address
	AddressTo   domain.Address
	Parcel      domain.ParcelSpec
}

// Rate is one carrier service level quoted for a parcel. EstimatedDays is nil
// when the carrier reports no transit estimate.
type Rate struct {
	ObjectID      string
	Amount        float64
	Currency      string
	Provider      string
	ServiceLevel  string
	EstimatedDays *int
	DurationTerms string
}

// RateProvider shops rates across carriers for a parcel.
type RateProvider interface {
	FetchRates(ctx context.Context, req RateRequest) ([]Rate, error)
}

// CourierQuoteRequest asks a same-day courier for a delivery quote under a
// fixed scheduling policy.
type CourierQuoteRequest struct {
	PickupAddress      string
	DropoffAddress     string
	PickupDeadline     time.Time
	DropoffReady       time.Time
	DropoffDeadline    time.Time
	ManifestTotalValue int64
}

// CourierQuote is a courier's offer. Fee is in minor currency units.
type CourierQuote struct {
	ID              string
	Fee             int64
	Currency        string
	DurationMinutes int
	DropoffETA      time.Time
	ExpiresAt       time.Time
}

// CourierProvider produces same-day delivery quotes.
type CourierProvider interface {
	QuoteDelivery(ctx context.Context, req CourierQuoteRequest) (CourierQuote, error)
}
