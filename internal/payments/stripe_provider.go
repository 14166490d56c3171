package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger receives structured events from the Stripe adapter.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

// The three slices of the Stripe SDK the adapter calls, kept as interfaces
// so tests can run without HTTP.
type (
	checkoutSessionClient interface {
		New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	}
	paymentIntentClient interface {
		Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	}
	refundClient interface {
		New(params *stripe.RefundParams) (*stripe.Refund, error)
	}
)

type stripeAPI struct {
	sessions checkoutSessionClient
	intents  paymentIntentClient
	refunds  refundClient
}

// StripeProviderConfig configures NewStripeProvider. Clients overrides the
// SDK-backed API surface and makes APIKey optional.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeAPI
}

// StripeProvider implements Provider on top of Stripe Checkout and Payment
// Intents.
type StripeProvider struct {
	api     stripeAPI
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider builds the adapter.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	api, err := resolveStripeAPI(cfg)
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     api,
		account: strings.TrimSpace(cfg.AccountID),
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

func resolveStripeAPI(cfg StripeProviderConfig) (stripeAPI, error) {
	if cfg.Clients != nil {
		api := *cfg.Clients
		if api.sessions == nil || api.intents == nil || api.refunds == nil {
			return stripeAPI{}, errors.New("stripe: incomplete client configuration")
		}
		return api, nil
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return stripeAPI{}, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, cfg.Backends)
	return stripeAPI{
		sessions: sc.CheckoutSessions,
		intents:  sc.PaymentIntents,
		refunds:  sc.Refunds,
	}, nil
}

// CreateCheckoutSession opens a Stripe Checkout session in payment mode.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}

	params := p.sessionParams(ctx, req)
	session, err := p.api.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	var intentID string
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": intentID,
		"currency":      session.Currency,
	})

	// Stripe omits ExpiresAt for some session states; assume its default
	// 30 minute window then.
	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:           session.ID,
		Provider:     "stripe",
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.URL,
		IntentID:     intentID,
		ExpiresAt:    expiresAt,
		Raw:          rawJSON(session),
	}, nil
}

func (p *StripeProvider) sessionParams(ctx context.Context, req CheckoutSessionRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems:  sessionLineItems(req),
	}
	params.Context = ctx

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(strings.ReplaceAll(strings.ToLower(req.Locale), "_", "-"))
	}
	if req.AllowPromotion {
		params.AllowPromotionCodes = stripe.Bool(true)
	}

	// The same metadata rides on the session and the payment intent so
	// settlement jobs can reconcile either object on its own.
	params.Metadata = cloneMetadata(req.Metadata)
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: cloneMetadata(req.Metadata),
	}
	return params
}

func sessionLineItems(req CheckoutSessionRequest) []*stripe.CheckoutSessionLineItemParams {
	if len(req.Items) == 0 {
		// Sessions need at least one line; bill the order total as one row.
		return []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order"),
				},
			},
		}}
	}

	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		currency := strings.TrimSpace(item.Currency)
		if currency == "" {
			currency = req.Currency
		}
		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		if item.SKU != "" {
			product.Metadata = map[string]string{"sku": item.SKU}
		}
		lines = append(lines, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(currency)),
				UnitAmount:  stripe.Int64(item.Amount),
				ProductData: product,
			},
		})
	}
	return lines
}

// Refund reverses the payment intent, then re-reads it so the caller gets
// the post-refund state.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
		Metadata:      cloneMetadata(req.Metadata),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := refundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	if _, err := p.api.refunds.New(params); err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.IntentID,
	})
	return p.LookupPayment(ctx, LookupRequest{IntentID: req.IntentID})
}

// LookupPayment reads the payment intent and normalises it.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(req.IntentID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return detailsFromIntent(intent), nil
}

func detailsFromIntent(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	details := PaymentDetails{
		Provider: "stripe",
		IntentID: intent.ID,
		Status:   StatusPending,
		Amount:   intent.Amount,
		Currency: strings.ToUpper(string(intent.Currency)),
		Raw:      rawJSON(intent),
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		details.Status = StatusSucceeded
		details.Captured = true
	case stripe.PaymentIntentStatusCanceled:
		details.Status = StatusFailed
	}

	charge := intent.LatestCharge
	if charge == nil {
		return details
	}
	if details.Currency == "" {
		details.Currency = strings.ToUpper(string(charge.Currency))
	}
	if charge.Paid || charge.Captured {
		at := time.Unix(charge.Created, 0).UTC()
		details.CapturedAt = &at
		details.Captured = true
	}
	if charge.Refunded || charge.AmountRefunded > 0 {
		at := time.Unix(charge.Created, 0).UTC()
		details.RefundedAt = &at
		if charge.Amount > 0 && charge.AmountRefunded >= charge.Amount {
			details.Status = StatusRefunded
		}
	}
	return details
}

// refundReason keeps only the reasons Stripe accepts; anything else is
// carried in metadata by the caller instead.
func refundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate),
		string(stripe.RefundReasonFraudulent),
		string(stripe.RefundReasonRequestedByCustomer):
		return strings.ToLower(strings.TrimSpace(reason))
	}
	return ""
}

func cloneMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func rawJSON(v any) map[string]any {
	raw := map[string]any{}
	data, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	_ = json.Unmarshal(data, &raw)
	return raw
}
