package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultUberBaseURL     = "https://api.uber.com/v1"
	defaultUberCallTimeout = 10 * time.Second
)

// UberLogger defines the logging contract for courier quote operations.
type UberLogger func(ctx context.Context, event string, fields map[string]any)

// UberProviderConfig configures the UberProvider.
type UberProviderConfig struct {
	AccessToken string
	CustomerID  string
	BaseURL     string
	CallTimeout time.Duration
	HTTPClient  httpDoer
	Logger      UberLogger
}

// UberProvider implements CourierProvider against the Uber Direct delivery
// quotes API. Quotes are not retried: each quote call creates a new offer and
// the caller degrades to "same-day not offered" on failure.
type UberProvider struct {
	token    string
	customer string
	baseURL  string
	timeout  time.Duration
	client   httpDoer
	logger   UberLogger
}

// NewUberProvider constructs an UberProvider using the given configuration.
func NewUberProvider(cfg UberProviderConfig) (*UberProvider, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("uber: access token is required")
	}
	customer := strings.TrimSpace(cfg.CustomerID)
	if customer == "" {
		return nil, errors.New("uber: customer id is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultUberBaseURL
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultUberCallTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &UberProvider{
		token:    token,
		customer: customer,
		baseURL:  baseURL,
		timeout:  timeout,
		client:   client,
		logger:   logger,
	}, nil
}

type uberQuoteRequest struct {
	PickupAddress      string `json:"pickup_address"`
	DropoffAddress     string `json:"dropoff_address"`
	PickupDeadline     string `json:"pickup_deadline_dt,omitempty"`
	DropoffReady       string `json:"dropoff_ready_dt,omitempty"`
	DropoffDeadline    string `json:"dropoff_deadline_dt,omitempty"`
	ManifestTotalValue int64  `json:"manifest_total_value,omitempty"`
}

type uberQuoteResponse struct {
	ID         string `json:"id"`
	Fee        int64  `json:"fee"`
	Currency   string `json:"currency_type"`
	Duration   int    `json:"duration"`
	DropoffETA string `json:"dropoff_eta"`
	Expires    string `json:"expires"`
}

// QuoteDelivery requests a same-day delivery quote.
func (p *UberProvider) QuoteDelivery(ctx context.Context, req CourierQuoteRequest) (CourierQuote, error) {
	if p == nil {
		return CourierQuote{}, errors.New("uber: provider is nil")
	}
	if strings.TrimSpace(req.PickupAddress) == "" || strings.TrimSpace(req.DropoffAddress) == "" {
		return CourierQuote{}, errors.New("uber: pickup and dropoff addresses are required")
	}

	payload := uberQuoteRequest{
		PickupAddress:      req.PickupAddress,
		DropoffAddress:     req.DropoffAddress,
		ManifestTotalValue: req.ManifestTotalValue,
	}
	if !req.PickupDeadline.IsZero() {
		payload.PickupDeadline = req.PickupDeadline.UTC().Format(time.RFC3339)
	}
	if !req.DropoffReady.IsZero() {
		payload.DropoffReady = req.DropoffReady.UTC().Format(time.RFC3339)
	}
	if !req.DropoffDeadline.IsZero() {
		payload.DropoffDeadline = req.DropoffDeadline.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return CourierQuote{}, fmt.Errorf("uber: marshal quote request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	path := fmt.Sprintf("%s/customers/%s/delivery_quotes", p.baseURL, p.customer)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return CourierQuote{}, fmt.Errorf("uber: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return CourierQuote{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CourierQuote{}, fmt.Errorf("%w: read response: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CourierQuote{}, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, truncate(string(data), 256))
	}

	var quote uberQuoteResponse
	if err := json.Unmarshal(data, &quote); err != nil {
		return CourierQuote{}, fmt.Errorf("uber: decode response: %w", err)
	}

	out := CourierQuote{
		ID:              quote.ID,
		Fee:             quote.Fee,
		Currency:        strings.ToUpper(strings.TrimSpace(quote.Currency)),
		DurationMinutes: quote.Duration,
	}
	if eta, err := time.Parse(time.RFC3339, quote.DropoffETA); err == nil {
		out.DropoffETA = eta.UTC()
	}
	if exp, err := time.Parse(time.RFC3339, quote.Expires); err == nil {
		out.ExpiresAt = exp.UTC()
	}

	p.logger(ctx, "shipping.uber.quote_created", map[string]any{
		"quoteId": out.ID,
		"fee":     out.Fee,
	})

	return out, nil
}
