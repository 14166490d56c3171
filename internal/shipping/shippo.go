package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/vesoko/marketplace-api/internal/domain"
)

const (
	defaultShippoBaseURL     = "https://api.goshippo.com"
	defaultShippoCallTimeout = 10 * time.Second
)

// ShippoLogger defines the logging contract for rate-shopping operations.
type ShippoLogger func(ctx context.Context, event string, fields map[string]any)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ShippoProviderConfig configures the ShippoProvider.
type ShippoProviderConfig struct {
	APIToken    string
	BaseURL     string
	CallTimeout time.Duration
	HTTPClient  httpDoer
	Logger      ShippoLogger
}

// ShippoProvider implements RateProvider against the Shippo shipments API.
// Rate shopping is billed per request, so failed calls are retried once.
type ShippoProvider struct {
	token   string
	baseURL string
	timeout time.Duration
	client  httpDoer
	logger  ShippoLogger
}

// NewShippoProvider constructs a ShippoProvider using the given configuration.
func NewShippoProvider(cfg ShippoProviderConfig) (*ShippoProvider, error) {
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, errors.New("shippo: api token is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultShippoBaseURL
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultShippoCallTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ShippoProvider{
		token:   token,
		baseURL: baseURL,
		timeout: timeout,
		client:  client,
		logger:  logger,
	}, nil
}

type shippoAddress struct {
	Name    string `json:"name,omitempty"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

type shippoParcel struct {
	Length       string `json:"length"`
	Width        string `json:"width"`
	Height       string `json:"height"`
	DistanceUnit string `json:"distance_unit"`
	Weight       string `json:"weight"`
	MassUnit     string `json:"mass_unit"`
}

type shippoShipmentRequest struct {
	AddressFrom shippoAddress  `json:"address_from"`
	AddressTo   shippoAddress  `json:"address_to"`
	Parcels     []shippoParcel `json:"parcels"`
	Async       bool           `json:"async"`
}

type shippoServiceLevel struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

type shippoRate struct {
	ObjectID      string             `json:"object_id"`
	Amount        string             `json:"amount"`
	Currency      string             `json:"currency"`
	Provider      string             `json:"provider"`
	ServiceLevel  shippoServiceLevel `json:"servicelevel"`
	EstimatedDays *int               `json:"estimated_days"`
	DurationTerms string             `json:"duration_terms"`
}

type shippoShipmentResponse struct {
	ObjectID string       `json:"object_id"`
	Status   string       `json:"status"`
	Rates    []shippoRate `json:"rates"`
}

// FetchRates creates a synchronous shipment and returns its quoted rates.
func (p *ShippoProvider) FetchRates(ctx context.Context, req RateRequest) ([]Rate, error) {
	if p == nil {
		return nil, errors.New("shippo: provider is nil")
	}

	payload := shippoShipmentRequest{
		AddressFrom: toShippoAddress(req.AddressFrom),
		AddressTo:   toShippoAddress(req.AddressTo),
		Parcels:     []shippoParcel{toShippoParcel(req.Parcel)},
		Async:       false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("shippo: marshal shipment: %w", err)
	}

	var resp shippoShipmentResponse
	if err := p.post(ctx, "/shipments/", body, &resp); err != nil {
		return nil, err
	}

	rates := make([]Rate, 0, len(resp.Rates))
	for _, r := range resp.Rates {
		amount, parseErr := strconv.ParseFloat(strings.TrimSpace(r.Amount), 64)
		if parseErr != nil {
			p.logger(ctx, "shipping.shippo.rate_unparsable", map[string]any{
				"rateId": r.ObjectID,
				"amount": r.Amount,
			})
			continue
		}
		rates = append(rates, Rate{
			ObjectID:      r.ObjectID,
			Amount:        amount,
			Currency:      strings.ToUpper(strings.TrimSpace(r.Currency)),
			Provider:      r.Provider,
			ServiceLevel:  r.ServiceLevel.Name,
			EstimatedDays: r.EstimatedDays,
			DurationTerms: r.DurationTerms,
		})
	}

	p.logger(ctx, "shipping.shippo.rates_fetched", map[string]any{
		"shipmentId": resp.ObjectID,
		"rateCount":  len(rates),
	})

	return rates, nil
}

// post sends the request with one retry; shipment creation with async=false
// is a pure quote and safe to repeat.
func (p *ShippoProvider) post(ctx context.Context, path string, body []byte, out any) error {
	var lastErr error
	for tries := 0; tries < 2; tries++ {
		lastErr = p.doOnce(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

func (p *ShippoProvider) doOnce(ctx context.Context, path string, body []byte, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "ShippoToken "+p.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 256))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toShippoAddress(a domain.Address) shippoAddress {
	return shippoAddress{
		Name:    a.Name,
		Street1: a.Street1,
		Street2: a.Street2,
		City:    a.City,
		State:   a.State,
		Zip:     a.PostalCode,
		Country: a.Country,
		Phone:   a.Phone,
		Email:   a.Email,
	}
}

func toShippoParcel(p domain.ParcelSpec) shippoParcel {
	return shippoParcel{
		Length:       p.Length,
		Width:        p.Width,
		Height:       p.Height,
		DistanceUnit: p.DistanceUnit,
		Weight:       p.Weight,
		MassUnit:     p.MassUnit,
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
