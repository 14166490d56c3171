package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"
)

func testQuoteRequest(now time.Time) CourierQuoteRequest {
	return CourierQuoteRequest{
		PickupAddress:      "1 Warehouse Rd, Austin, TX 78701",
		DropoffAddress:     "500 Elm St, Dallas, TX 75201",
		PickupDeadline:     now.Add(30 * time.Minute),
		DropoffReady:       now.Add(time.Hour),
		DropoffDeadline:    now.Add(4 * time.Hour),
		ManifestTotalValue: 3998,
	}
}

func TestNewUberProviderValidation(t *testing.T) {
	if _, err := NewUberProvider(UberProviderConfig{CustomerID: "cust"}); err == nil {
		t.Fatalf("expected error without access token")
	}
	if _, err := NewUberProvider(UberProviderConfig{AccessToken: "tok"}); err == nil {
		t.Fatalf("expected error without customer id")
	}
}

func TestQuoteDeliveryParsesResponse(t *testing.T) {
	client := &fakeHTTPClient{responses: []*http.Response{jsonResponse(http.StatusOK, `{
		"id": "dqt_1",
		"fee": 1299,
		"currency_type": "usd",
		"duration": 45,
		"dropoff_eta": "2025-03-10T15:45:00Z",
		"expires": "2025-03-10T15:15:00Z"
	}`)}}

	provider, err := NewUberProvider(UberProviderConfig{AccessToken: "tok", CustomerID: "cust-1", HTTPClient: client})
	if err != nil {
		t.Fatalf("expected provider, got error: %v", err)
	}

	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	quote, err := provider.QuoteDelivery(context.Background(), testQuoteRequest(now))
	if err != nil {
		t.Fatalf("expected quote, got error: %v", err)
	}
	if quote.ID != "dqt_1" || quote.Fee != 1299 || quote.Currency != "USD" || quote.DurationMinutes != 45 {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if !quote.DropoffETA.Equal(now.Add(45 * time.Minute)) {
		t.Fatalf("unexpected dropoff ETA %v", quote.DropoffETA)
	}
	if !quote.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", quote.ExpiresAt)
	}

	req := client.requests[0]
	if req.Method != http.MethodPost || req.URL.Path != "/v1/customers/cust-1/delivery_quotes" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(client.bodies[0], &payload); err != nil {
		t.Fatalf("request body not JSON: %v", err)
	}
	if got := payload["pickup_deadline_dt"]; got != "2025-03-10T15:30:00Z" {
		t.Fatalf("unexpected pickup deadline %v", got)
	}
	if got := payload["dropoff_ready_dt"]; got != "2025-03-10T16:00:00Z" {
		t.Fatalf("unexpected dropoff ready %v", got)
	}
	if got := payload["dropoff_deadline_dt"]; got != "2025-03-10T19:00:00Z" {
		t.Fatalf("unexpected dropoff deadline %v", got)
	}
	if got := payload["manifest_total_value"]; got != float64(3998) {
		t.Fatalf("unexpected manifest value %v", got)
	}
}

func TestQuoteDeliveryRequiresAddresses(t *testing.T) {
	client := &fakeHTTPClient{}
	provider, err := NewUberProvider(UberProviderConfig{AccessToken: "tok", CustomerID: "cust-1", HTTPClient: client})
	if err != nil {
		t.Fatalf("expected provider, got error: %v", err)
	}

	req := testQuoteRequest(time.Now())
	req.DropoffAddress = "   "
	if _, err := provider.QuoteDelivery(context.Background(), req); err == nil {
		t.Fatalf("expected validation error")
	}
	if len(client.requests) != 0 {
		t.Fatalf("expected no API call, got %d", len(client.requests))
	}
}

func TestQuoteDeliveryDoesNotRetry(t *testing.T) {
	client := &fakeHTTPClient{errs: []error{errors.New("reset")}}
	provider, err := NewUberProvider(UberProviderConfig{AccessToken: "tok", CustomerID: "cust-1", HTTPClient: client})
	if err != nil {
		t.Fatalf("expected provider, got error: %v", err)
	}

	if _, err := provider.QuoteDelivery(context.Background(), testQuoteRequest(time.Now())); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(client.requests))
	}
}

func TestQuoteDeliveryNonSuccessStatus(t *testing.T) {
	client := &fakeHTTPClient{responses: []*http.Response{jsonResponse(http.StatusTooManyRequests, `{"code": "rate_limited"}`)}}
	provider, err := NewUberProvider(UberProviderConfig{AccessToken: "tok", CustomerID: "cust-1", HTTPClient: client})
	if err != nil {
		t.Fatalf("expected provider, got error: %v", err)
	}

	if _, err := provider.QuoteDelivery(context.Background(), testQuoteRequest(time.Now())); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}
