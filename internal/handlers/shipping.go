package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/vesoko/marketplace-api/internal/domain"
	"github.com/vesoko/marketplace-api/internal/platform/auth"
	"github.com/vesoko/marketplace-api/internal/platform/httpx"
	"github.com/vesoko/marketplace-api/internal/services"
)

const maxShippingRequestBody = 64 * 1024

// ShippingHandlers exposes shipping quote endpoints for authenticated users.
type ShippingHandlers struct {
	authn    *auth.Authenticator
	shipping services.ShippingService
}

// NewShippingHandlers constructs shipping handlers guarded by Firebase authentication.
func NewShippingHandlers(authn *auth.Authenticator, shipping services.ShippingService) *ShippingHandlers {
	return &ShippingHandlers{
		authn:    authn,
		shipping: shipping,
	}
}

// Routes registers shipping endpoints under the provided router.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/shipping-options", h.getShippingOptions)
}

type addressPayload struct {
	Name       string `json:"name,omitempty"`
	Street1    string `json:"street1"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

type storeRefPayload struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type cartLinePayload struct {
	ProductID    string           `json:"productId"`
	Title        string           `json:"title,omitempty"`
	SellerStore  *storeRefPayload `json:"sellerStore,omitempty"`
	SellerID     string           `json:"sellerId,omitempty"`
	Store        *storeRefPayload `json:"store,omitempty"`
	StoreID      string           `json:"storeId,omitempty"`
	UnitPrice    float64          `json:"unitPrice"`
	Quantity     int              `json:"quantity"`
	TaxRate      float64          `json:"taxRate,omitempty"`
	WeightPounds float64          `json:"weightPounds,omitempty"`
	LengthInches float64          `json:"lengthInches,omitempty"`
	WidthInches  float64          `json:"widthInches,omitempty"`
	HeightInches float64          `json:"heightInches,omitempty"`
}

type shippingOptionsRequest struct {
	Items           []cartLinePayload `json:"items"`
	CustomerAddress addressPayload    `json:"customerAddress"`
}

type shippingOptionPayload struct {
	RateID        string  `json:"rateId"`
	Label         string  `json:"label"`
	DeliveryTime  string  `json:"deliveryTime,omitempty"`
	Price         float64 `json:"price"`
	Provider      string  `json:"provider"`
	ServiceLevel  string  `json:"serviceLevel,omitempty"`
	DurationTerms string  `json:"durationTerms,omitempty"`
	Type          string  `json:"type"`
}

type shippingGroupPayload struct {
	GroupID         string                  `json:"groupId"`
	Items           []string                `json:"items"`
	DeliveryOptions []shippingOptionPayload `json:"deliveryOptions"`
	Error           string                  `json:"error,omitempty"`
	SameDayError    string                  `json:"sameDayError,omitempty"`
}

type shippingOptionsResponse struct {
	Success         bool                   `json:"success"`
	RequestID       string                 `json:"requestId,omitempty"`
	ShippingGroups  []shippingGroupPayload `json:"shippingGroups"`
	UnassignedItems []string               `json:"unassignedItems,omitempty"`
}

func (h *ShippingHandlers) getShippingOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxShippingRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req shippingOptionsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.GetShippingOptionsCommand{
		Items:           toDomainLines(req.Items),
		CustomerAddress: toDomainAddress(req.CustomerAddress),
	}

	result, err := h.shipping.GetShippingOptions(ctx, cmd)
	if err != nil {
		if errors.Is(err, services.ErrShippingInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one cart item is required", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("shipping_error", "failed to fetch shipping options", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, toShippingOptionsResponse(result))
}

func toDomainAddress(p addressPayload) domain.Address {
	return domain.Address{
		Name:       strings.TrimSpace(p.Name),
		Street1:    strings.TrimSpace(p.Street1),
		Street2:    strings.TrimSpace(p.Street2),
		City:       strings.TrimSpace(p.City),
		State:      strings.TrimSpace(p.State),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.TrimSpace(p.Country),
		Phone:      strings.TrimSpace(p.Phone),
		Email:      strings.TrimSpace(p.Email),
	}
}

func toDomainLines(items []cartLinePayload) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		line := domain.CartLine{
			ProductID:    strings.TrimSpace(item.ProductID),
			Title:        strings.TrimSpace(item.Title),
			SellerID:     strings.TrimSpace(item.SellerID),
			StoreID:      strings.TrimSpace(item.StoreID),
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
			TaxRate:      item.TaxRate,
			WeightPounds: item.WeightPounds,
			LengthInches: item.LengthInches,
			WidthInches:  item.WidthInches,
			HeightInches: item.HeightInches,
		}
		if item.SellerStore != nil {
			line.SellerStore = &domain.StoreRef{ID: strings.TrimSpace(item.SellerStore.ID), Name: strings.TrimSpace(item.SellerStore.Name)}
		}
		if item.Store != nil {
			line.Store = &domain.StoreRef{ID: strings.TrimSpace(item.Store.ID), Name: strings.TrimSpace(item.Store.Name)}
		}
		lines = append(lines, line)
	}
	return lines
}

func toShippingOptionsResponse(result domain.ShippingOptionsResult) shippingOptionsResponse {
	groups := make([]shippingGroupPayload, 0, len(result.ShippingGroups))
	for _, group := range result.ShippingGroups {
		items := make([]string, 0, len(group.Items))
		for _, line := range group.Items {
			items = append(items, line.ProductID)
		}
		options := make([]shippingOptionPayload, 0, len(group.DeliveryOptions))
		for _, option := range group.DeliveryOptions {
			options = append(options, shippingOptionPayload{
				RateID:        option.RateID,
				Label:         option.Label,
				DeliveryTime:  formatTime(option.DeliveryTime),
				Price:         roundCents(option.Price),
				Provider:      option.Provider,
				ServiceLevel:  option.ServiceLevel,
				DurationTerms: option.DurationTerms,
				Type:          string(option.Type),
			})
		}
		groups = append(groups, shippingGroupPayload{
			GroupID:         group.GroupID,
			Items:           items,
			DeliveryOptions: options,
			Error:           group.Error,
			SameDayError:    group.SameDayError,
		})
	}

	unassigned := make([]string, 0, len(result.UnassignedItems))
	for _, line := range result.UnassignedItems {
		unassigned = append(unassigned, line.ProductID)
	}

	return shippingOptionsResponse{
		Success:         result.Success,
		RequestID:       result.RequestID,
		ShippingGroups:  groups,
		UnassignedItems: unassigned,
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
