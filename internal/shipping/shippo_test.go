package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	domain "github.com/vesoko/marketplace-api/internal/domain"
)

type fakeHTTPClient struct {
	requests  []*http.Request
	bodies    [][]byte
	responses []*http.Response
	errs      []error
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	f.bodies = append(f.bodies, body)

	idx := len(f.requests) - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return jsonResponse(http.StatusOK, `{}`), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func testRateRequest() RateRequest {
	return RateRequest{
		AddressFrom: domain.Address{Street1: "1 Warehouse Rd", City: "Austin", State: "TX", PostalCode: "78701", Country: "US"},
		AddressTo:   domain.Address{Street1: "500 Elm St", City: "Dallas", State: "TX", PostalCode: "75201", Country: "US"},
		Parcel: domain.ParcelSpec{
			Length: "10.00", Width: "8.00", Height: "6.00",
			Weight: "3.00", DistanceUnit: "in", MassUnit: "lb",
		},
	}
}

func TestNewShippoProviderRequiresToken(t *testing.T) {
	if _, err := NewShippoProvider(ShippoProviderConfig{}); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestFetchRatesParsesResponse(t *testing.T) {
	client := &fakeHTTPClient{responses: []*http.Response{jsonResponse(http.StatusOK, `{
		"object_id": "shp_1",
		"status": "SUCCESS",
		"rates": [
			{"object_id": "r1", "amount": "8.25", "currency": "usd", "provider": "usps",
			 "servicelevel": {"name": "Ground Advantage", "token": "usps_ground_advantage"},
			 "estimated_days": 5, "duration_terms": "5 business days"},
			{"object_id": "r2", "amount": "not-a-number", "currency": "usd", "provider": "usps",
			 "servicelevel": {"name": "Priority Mail"}}
		]
	}`)}}

	provider, err := NewShippoProvider(ShippoProviderConfig{APIToken: "tok", HTTPClient: client})
	if err != nil {
		t.Fatalf("expected provider, got error: %v", err)
	}

	rates, err := provider.FetchRates(context.Background(), testRateRequest())
	if err != nil {
		t.Fatalf("expected rates, got error: %v", err)
	}
	if len(rates) != 1 {
		t.Fatalf("expected unparsable rate dropped, got %d rates", len(rates))
	}
	rate := rates[0]
	if rate.ObjectID != "r1" || rate.Amount != 8.25 || rate.Currency != "USD" {
		t.Fatalf("unexpected rate %+v", rate)
	}
	if rate.ServiceLevel != "Ground Advantage" || rate.EstimatedDays == nil || *rate.EstimatedDays != 5 {
		t.Fatalf("unexpected service level %+v", rate)
	}

	req := client.requests[0]
	if req.Method != http.MethodPost || req.URL.Path != "/shipments/" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if got := req.Header.Get("Authorization"); got != "ShippoToken tok" {
		t.Fatalf("unexpected auth header %q", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(client.bodies[0], &payload); err != nil {
		t.Fatalf("request body not JSON: %v", err)
	}
	if async, ok := payload["async"].(bool); !ok || async {
		t.Fatalf("expected synchronous shipment request, got %v", payload["async"])
	}
}

func TestFetchRatesRetriesThenFails(t *testing.T) {
	client := &fakeHTTPClient{errs: []error{errors.New("reset"), errors.New("reset")}}
	provider, err := NewShippoProvider(ShippoProviderConfig{APIToken: "tok", HTTPClient: client})
	if err != nil {
		t.Fatalf("expected provider, got error: %v", err)
	}

	if _, err := provider.FetchRates(context.Background(), testRateRequest()); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if len(client.requests) != 2 {
		t.Fatalf("expected one retry, got %d requests", len(client.requests))
	}
}

func TestFetchRatesRecoversOnRetry(t *testing.T) {
	client := &fakeHTTPClient{
		errs: []error{errors.New("reset"), nil},
		responses: []*http.Response{
			nil,
			jsonResponse(http.StatusOK, `{"object_id": "shp_1", "rates": []}`),
		},
	}
	provider, err := NewShippoProvider(ShippoProviderConfig{APIToken: "tok", HTTPClient: client})
	if err != nil {
		t.Fatalf("expected provider, got error: %v", err)
	}

	rates, err := provider.FetchRates(context.Background(), testRateRequest())
	if err != nil {
		t.Fatalf("expected recovery on retry, got %v", err)
	}
	if len(rates) != 0 {
		t.Fatalf("expected empty rates, got %+v", rates)
	}
}

func TestFetchRatesNonSuccessStatus(t *testing.T) {
	client := &fakeHTTPClient{responses: []*http.Response{
		jsonResponse(http.StatusUnauthorized, `{"detail": "bad token"}`),
		jsonResponse(http.StatusUnauthorized, `{"detail": "bad token"}`),
	}}
	provider, err := NewShippoProvider(ShippoProviderConfig{APIToken: "tok", HTTPClient: client})
	if err != nil {
		t.Fatalf("expected provider, got error: %v", err)
	}

	if _, err := provider.FetchRates(context.Background(), testRateRequest()); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}
