package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedProvider struct {
	calls   []string
	session CheckoutSession
	details PaymentDetails
	err     error
}

func (p *scriptedProvider) CreateCheckoutSession(_ context.Context, _ CheckoutSessionRequest) (CheckoutSession, error) {
	p.calls = append(p.calls, "checkout")
	return p.session, p.err
}

func (p *scriptedProvider) Refund(_ context.Context, _ RefundRequest) (PaymentDetails, error) {
	p.calls = append(p.calls, "refund")
	return p.details, p.err
}

func (p *scriptedProvider) LookupPayment(_ context.Context, _ LookupRequest) (PaymentDetails, error) {
	p.calls = append(p.calls, "lookup")
	return p.details, p.err
}

func TestManagerPrefersCallerHint(t *testing.T) {
	stripe := &scriptedProvider{}
	paypal := &scriptedProvider{session: CheckoutSession{ID: "pp_1"}}
	m, err := NewManager(map[string]Provider{"stripe": stripe, "paypal": paypal})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	session, err := m.CreateCheckoutSession(context.Background(), PaymentContext{PreferredProvider: " PayPal "}, CheckoutSessionRequest{})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.ID != "pp_1" || session.Provider != "paypal" {
		t.Fatalf("unexpected session %+v", session)
	}
	if len(stripe.calls) != 0 {
		t.Fatalf("default provider was called: %v", stripe.calls)
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	stripe := &scriptedProvider{}
	local := &scriptedProvider{details: PaymentDetails{IntentID: "pi_jp"}}
	m, err := NewManager(
		map[string]Provider{"stripe": stripe, "payjp": local},
		WithCurrencyRoutes(map[string]string{"jpy": "PayJP"}),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	details, err := m.LookupPayment(context.Background(), PaymentContext{Currency: "jpy"}, LookupRequest{IntentID: "pi_jp"})
	if err != nil {
		t.Fatalf("LookupPayment: %v", err)
	}
	if details.IntentID != "pi_jp" {
		t.Fatalf("unexpected details %+v", details)
	}
	if len(local.calls) != 1 || local.calls[0] != "lookup" {
		t.Fatalf("currency route not used: %v", local.calls)
	}
}

func TestManagerFallsBackToStripeDefault(t *testing.T) {
	stripe := &scriptedProvider{details: PaymentDetails{Status: StatusRefunded}}
	m, err := NewManager(map[string]Provider{"stripe": stripe, "paypal": &scriptedProvider{}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	details, err := m.Refund(context.Background(), PaymentContext{PreferredProvider: "gone"}, RefundRequest{IntentID: "pi_1"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if details.Status != StatusRefunded {
		t.Fatalf("unexpected details %+v", details)
	}
}

func TestManagerLastResortSingleProvider(t *testing.T) {
	only := &scriptedProvider{session: CheckoutSession{ID: "cs_1"}}
	m, err := NewManager(map[string]Provider{"adyen": only}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	session, err := m.CreateCheckoutSession(context.Background(), PaymentContext{PreferredProvider: "unknown"}, CheckoutSessionRequest{})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.Provider != "adyen" {
		t.Fatalf("unexpected provider %q", session.Provider)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	m, err := NewManager(
		map[string]Provider{"stripe": &scriptedProvider{}, "paypal": &scriptedProvider{}},
		WithDefaultProvider(""),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, err = m.CreateCheckoutSession(context.Background(), PaymentContext{PreferredProvider: "unknown"}, CheckoutSessionRequest{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerRejectsBadRegistrations(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatal("expected error for empty registry")
	}
	if _, err := NewManager(map[string]Provider{"  ": &scriptedProvider{}}); err == nil {
		t.Fatal("expected error for blank provider name")
	}
	if _, err := NewManager(map[string]Provider{"stripe": nil}); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestManagerStampsResolvedProviderName(t *testing.T) {
	stripe := &scriptedProvider{session: CheckoutSession{ID: "cs_2", ExpiresAt: time.Now()}}
	m, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	session, err := m.CreateCheckoutSession(context.Background(), PaymentContext{}, CheckoutSessionRequest{})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.Provider != "stripe" {
		t.Fatalf("provider name not stamped: %+v", session)
	}
}
