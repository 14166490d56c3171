package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeSessionClient struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessionClient) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.session, f.err
}

type fakeIntentClient struct {
	id     string
	intent *stripe.PaymentIntent
	err    error
}

func (f *fakeIntentClient) Get(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.id = id
	return f.intent, f.err
}

type fakeRefundClient struct {
	params *stripe.RefundParams
	err    error
}

func (f *fakeRefundClient) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	return &stripe.Refund{ID: "re_1"}, f.err
}

func newTestStripeProvider(t *testing.T, api stripeAPI, clock func() time.Time) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{Clients: &api, Clock: clock})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func TestStripeCheckoutSessionParams(t *testing.T) {
	sessions := &fakeSessionClient{session: &stripe.CheckoutSession{
		ID:            "cs_1",
		URL:           "https://checkout.stripe.com/cs_1",
		ExpiresAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix(),
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
	}}
	provider := newTestStripeProvider(t, stripeAPI{
		sessions: sessions,
		intents:  &fakeIntentClient{},
		refunds:  &fakeRefundClient{},
	}, nil)

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Currency:       "USD",
		SuccessURL:     "https://vesoko.com/checkout/done",
		CancelURL:      "https://vesoko.com/checkout/cancel",
		Locale:         "en_RW",
		IdempotencyKey: "order-77",
		Metadata:       map[string]string{"orderId": "ord_77"},
		Items: []CheckoutLineItem{
			{Name: "Basket", SKU: "BK-1", Quantity: 2, Amount: 1500},
			{Name: "Freight", Amount: 900, Currency: "usd"},
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if session.ID != "cs_1" || session.IntentID != "pi_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.ExpiresAt.Unix() != sessions.session.ExpiresAt {
		t.Fatalf("expiry not taken from session: %v", session.ExpiresAt)
	}

	params := sessions.params
	if params == nil {
		t.Fatal("session params not sent")
	}
	if got := stripe.StringValue(params.Locale); got != "en-rw" {
		t.Fatalf("locale not normalised: %q", got)
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("unexpected line items: %d", len(params.LineItems))
	}
	first := params.LineItems[0]
	if stripe.Int64Value(first.Quantity) != 2 || stripe.Int64Value(first.PriceData.UnitAmount) != 1500 {
		t.Fatalf("unexpected first line item %+v", first)
	}
	if got := stripe.StringValue(first.PriceData.Currency); got != "usd" {
		t.Fatalf("currency not lowercased: %q", got)
	}
	if got := first.PriceData.ProductData.Metadata["sku"]; got != "BK-1" {
		t.Fatalf("sku metadata missing: %q", got)
	}
	if params.Metadata["orderId"] != "ord_77" {
		t.Fatalf("session metadata missing: %v", params.Metadata)
	}
	if params.PaymentIntentData == nil || params.PaymentIntentData.Metadata["orderId"] != "ord_77" {
		t.Fatal("intent metadata missing")
	}
}

func TestStripeCheckoutSessionFallbackLineItem(t *testing.T) {
	sessions := &fakeSessionClient{session: &stripe.CheckoutSession{ID: "cs_2"}}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	provider := newTestStripeProvider(t, stripeAPI{
		sessions: sessions,
		intents:  &fakeIntentClient{},
		refunds:  &fakeRefundClient{},
	}, func() time.Time { return now })

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Amount:   4200,
		Currency: "RWF",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if len(sessions.params.LineItems) != 1 {
		t.Fatalf("expected aggregate line item, got %d", len(sessions.params.LineItems))
	}
	line := sessions.params.LineItems[0]
	if stripe.Int64Value(line.PriceData.UnitAmount) != 4200 {
		t.Fatalf("unexpected amount %+v", line.PriceData)
	}
	if got := stripe.StringValue(line.PriceData.Currency); got != "rwf" {
		t.Fatalf("unexpected currency %q", got)
	}

	want := now.Add(30 * time.Minute)
	if !session.ExpiresAt.Equal(want) {
		t.Fatalf("expected default expiry %v, got %v", want, session.ExpiresAt)
	}
}

func TestStripeRefundRereadsIntent(t *testing.T) {
	amount := int64(1500)
	intents := &fakeIntentClient{intent: &stripe.PaymentIntent{
		ID:       "pi_9",
		Amount:   1500,
		Currency: stripe.CurrencyUSD,
		Status:   stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{
			Amount:         1500,
			AmountRefunded: 1500,
			Refunded:       true,
			Paid:           true,
			Created:        time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC).Unix(),
		},
	}}
	refunds := &fakeRefundClient{}
	provider := newTestStripeProvider(t, stripeAPI{
		sessions: &fakeSessionClient{},
		intents:  intents,
		refunds:  refunds,
	}, nil)

	details, err := provider.Refund(context.Background(), RefundRequest{
		IntentID: "pi_9",
		Amount:   &amount,
		Reason:   "Requested_By_Customer",
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}

	if refunds.params == nil {
		t.Fatal("refund params not sent")
	}
	if got := stripe.StringValue(refunds.params.Reason); got != "requested_by_customer" {
		t.Fatalf("reason not normalised: %q", got)
	}
	if stripe.Int64Value(refunds.params.Amount) != 1500 {
		t.Fatalf("unexpected refund amount %+v", refunds.params.Amount)
	}
	if intents.id != "pi_9" {
		t.Fatalf("intent not re-read: %q", intents.id)
	}
	if details.Status != StatusRefunded {
		t.Fatalf("full refund not detected: %+v", details)
	}
	if details.RefundedAt == nil || details.CapturedAt == nil {
		t.Fatalf("timestamps missing: %+v", details)
	}
}

func TestStripeRefundDropsUnknownReason(t *testing.T) {
	refunds := &fakeRefundClient{}
	provider := newTestStripeProvider(t, stripeAPI{
		sessions: &fakeSessionClient{},
		intents:  &fakeIntentClient{intent: &stripe.PaymentIntent{ID: "pi_1"}},
		refunds:  refunds,
	}, nil)

	if _, err := provider.Refund(context.Background(), RefundRequest{IntentID: "pi_1", Reason: "buyer changed mind"}); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunds.params.Reason != nil {
		t.Fatalf("unknown reason should be dropped, got %q", stripe.StringValue(refunds.params.Reason))
	}
}

func TestStripeLookupMapsIntentStatus(t *testing.T) {
	cases := []struct {
		name   string
		intent *stripe.PaymentIntent
		status Status
	}{
		{
			name:   "pending",
			intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusRequiresPaymentMethod},
			status: StatusPending,
		},
		{
			name:   "succeeded",
			intent: &stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusSucceeded},
			status: StatusSucceeded,
		},
		{
			name:   "canceled",
			intent: &stripe.PaymentIntent{ID: "pi_3", Status: stripe.PaymentIntentStatusCanceled},
			status: StatusFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := newTestStripeProvider(t, stripeAPI{
				sessions: &fakeSessionClient{},
				intents:  &fakeIntentClient{intent: tc.intent},
				refunds:  &fakeRefundClient{},
			}, nil)

			details, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: tc.intent.ID})
			if err != nil {
				t.Fatalf("LookupPayment: %v", err)
			}
			if details.Status != tc.status {
				t.Fatalf("expected status %q, got %q", tc.status, details.Status)
			}
			if details.Provider != "stripe" {
				t.Fatalf("unexpected provider %q", details.Provider)
			}
		})
	}
}

func TestNewStripeProviderValidation(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatal("expected error without api key or clients")
	}
	if _, err := NewStripeProvider(StripeProviderConfig{Clients: &stripeAPI{sessions: &fakeSessionClient{}}}); err == nil {
		t.Fatal("expected error for partial client configuration")
	}
}
