// Package payments abstracts payment service providers behind a single
// Provider interface and a Manager that routes each call to the right one.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the provider-neutral payment state.
type Status string

const (
	// StatusPending means the customer has not finished paying yet.
	StatusPending Status = "pending"
	// StatusSucceeded means funds were captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the PSP gave up on the payment.
	StatusFailed Status = "failed"
	// StatusRefunded means the payment was reversed, partially or fully.
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when no registered provider can take a
// call.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CheckoutLineItem is one purchasable row of a checkout session. Amount is
// in minor currency units.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest describes the session to open with the PSP.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	SuccessURL     string
	CancelURL      string
	Locale         string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
	AllowPromotion bool
}

// CheckoutSession is the PSP-hosted session the client is redirected to.
type CheckoutSession struct {
	ID           string
	Provider     string
	ClientSecret string
	RedirectURL  string
	IntentID     string
	ExpiresAt    time.Time
	Raw          map[string]any
}

// RefundRequest reverses a captured payment. A nil Amount refunds in full.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// LookupRequest fetches the current PSP-side state of a payment.
type LookupRequest struct {
	IntentID string
}

// PaymentDetails is the normalised view of a payment used for settlement
// records.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
	Raw        map[string]any
}

// Provider is the contract each PSP adapter implements.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// PaymentContext carries the routing hints for one call.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

// Manager routes payment calls across registered providers. Resolution order
// is the caller's preferred provider, then the currency route, then the
// default.
type Manager struct {
	providers map[string]Provider
	byCcy     map[string]string
	fallback  string
}

// ManagerOption adjusts Manager construction.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when no hint matches.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) {
		m.fallback = providerKey(name)
	}
}

// WithCurrencyRoutes pins currencies to providers, e.g. JPY to a local PSP.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, name := range routes {
			currency = strings.ToUpper(strings.TrimSpace(currency))
			if currency == "" {
				continue
			}
			if m.byCcy == nil {
				m.byCcy = make(map[string]string, len(routes))
			}
			m.byCcy[currency] = providerKey(name)
		}
	}
}

// NewManager registers the providers. When a provider named "stripe" is
// present it becomes the default unless an option says otherwise.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}

	registry := make(map[string]Provider, len(providers))
	for name, provider := range providers {
		key := providerKey(name)
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration %q", name)
		}
		registry[key] = provider
	}

	m := &Manager{providers: registry}
	if _, ok := registry["stripe"]; ok {
		m.fallback = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// CreateCheckoutSession opens a session with the resolved provider and stamps
// the provider name onto the result.
func (m *Manager) CreateCheckoutSession(ctx context.Context, pctx PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	name, provider, err := m.route(pctx)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = name
	return session, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, pctx PaymentContext, req RefundRequest) (PaymentDetails, error) {
	_, provider, err := m.route(pctx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Refund(ctx, req)
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, pctx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.route(pctx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}

func (m *Manager) route(pctx PaymentContext) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}

	var candidates []string
	if key := providerKey(pctx.PreferredProvider); key != "" {
		candidates = append(candidates, key)
	}
	if currency := strings.ToUpper(strings.TrimSpace(pctx.Currency)); currency != "" {
		if key := m.byCcy[currency]; key != "" {
			candidates = append(candidates, key)
		}
	}
	if m.fallback != "" {
		candidates = append(candidates, m.fallback)
	}

	for _, key := range candidates {
		if provider, ok := m.providers[key]; ok {
			return key, provider, nil
		}
	}
	if len(m.providers) == 1 {
		for key, provider := range m.providers {
			return key, provider, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
