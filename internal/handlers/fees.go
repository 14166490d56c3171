package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/vesoko/marketplace-api/internal/domain"
	"github.com/vesoko/marketplace-api/internal/platform/httpx"
	"github.com/vesoko/marketplace-api/internal/services"
)

const maxFeeRequestBody = 32 * 1024

// FeeHandlers exposes settlement preview endpoints. The calculations are pure,
// so no authentication is required to quote them.
type FeeHandlers struct {
	fees *services.FeeEngine
}

// NewFeeHandlers constructs fee preview handlers.
func NewFeeHandlers(fees *services.FeeEngine) *FeeHandlers {
	return &FeeHandlers{fees: fees}
}

// Routes registers fee endpoints under the provided router.
func (h *FeeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/fees", h.calculateFees)
	r.Post("/fees/multi", h.calculateMultiSellerFees)
}

type feeRequest struct {
	ProductSubtotal float64 `json:"productSubtotal"`
	TaxAmount       float64 `json:"taxAmount"`
	ShippingCost    float64 `json:"shippingCost"`
	GrossUpFees     bool    `json:"grossUpFees"`
}

type feeBreakdownPayload struct {
	CustomerTotal   float64 `json:"customerTotal"`
	SellerReceives  float64 `json:"sellerReceives"`
	PlatformRevenue float64 `json:"platformRevenue"`
	StripeFee       float64 `json:"stripeFee"`
	FeeModel        string  `json:"feeModel"`

	Charge struct {
		ProductSubtotal float64 `json:"productSubtotal"`
		Tax             float64 `json:"tax"`
		Shipping        float64 `json:"shipping"`
		ProcessingFee   float64 `json:"processingFee"`
	} `json:"charge"`

	Seller struct {
		ProductRevenue float64 `json:"productRevenue"`
		TaxCollected   float64 `json:"taxCollected"`
		TotalEarnings  float64 `json:"totalEarnings"`
	} `json:"seller"`

	Platform struct {
		Commission        float64 `json:"commission"`
		ShippingRevenue   float64 `json:"shippingRevenue"`
		StripeFeesCovered float64 `json:"stripeFeesCovered"`
		NetRevenue        float64 `json:"netRevenue"`
	} `json:"platform"`

	Stripe struct {
		PercentageFee float64 `json:"percentageFee"`
		FixedFee      float64 `json:"fixedFee"`
		TotalFee      float64 `json:"totalFee"`
	} `json:"stripe"`
}

type multiFeeRequest struct {
	Suborders []struct {
		SellerID        string  `json:"sellerId"`
		ProductSubtotal float64 `json:"productSubtotal"`
		TaxAmount       float64 `json:"taxAmount"`
		ShippingCost    float64 `json:"shippingCost"`
	} `json:"suborders"`
	GrossUpFees bool `json:"grossUpFees"`
}

type sellerSettlementPayload struct {
	SellerID  string              `json:"sellerId"`
	Breakdown feeBreakdownPayload `json:"breakdown"`
}

type multiFeeResponse struct {
	Suborders            []sellerSettlementPayload `json:"suborders"`
	CustomerTotal        float64                   `json:"customerTotal"`
	TotalSellerPayouts   float64                   `json:"totalSellerPayouts"`
	TotalPlatformRevenue float64                   `json:"totalPlatformRevenue"`
	FeeModel             string                    `json:"feeModel"`
}

func (h *FeeHandlers) calculateFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fees == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fees_unavailable", "fee engine unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxFeeRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req feeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	breakdown, err := h.fees.Calculate(services.FeeInput{
		ProductSubtotal: req.ProductSubtotal,
		TaxAmount:       req.TaxAmount,
		ShippingCost:    req.ShippingCost,
		GrossUpFees:     req.GrossUpFees,
	})
	if err != nil {
		h.writeFeeError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toFeeBreakdownPayload(breakdown))
}

func (h *FeeHandlers) calculateMultiSellerFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fees == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fees_unavailable", "fee engine unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxFeeRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req multiFeeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	suborders := make([]domain.SubOrder, 0, len(req.Suborders))
	for _, suborder := range req.Suborders {
		suborders = append(suborders, domain.SubOrder{
			SellerID:        strings.TrimSpace(suborder.SellerID),
			ProductSubtotal: suborder.ProductSubtotal,
			TaxAmount:       suborder.TaxAmount,
			ShippingCost:    suborder.ShippingCost,
		})
	}

	settlement, err := h.fees.CalculateMultiSeller(suborders, req.GrossUpFees)
	if err != nil {
		h.writeFeeError(w, r, err)
		return
	}

	payload := multiFeeResponse{
		Suborders:            make([]sellerSettlementPayload, 0, len(settlement.Suborders)),
		CustomerTotal:        roundCents(settlement.CustomerTotal),
		TotalSellerPayouts:   roundCents(settlement.TotalSellerPayouts),
		TotalPlatformRevenue: roundCents(settlement.TotalPlatformRevenue),
		FeeModel:             string(settlement.FeeModel),
	}
	for _, suborder := range settlement.Suborders {
		payload.Suborders = append(payload.Suborders, sellerSettlementPayload{
			SellerID:  suborder.SellerID,
			Breakdown: toFeeBreakdownPayload(suborder.Fees),
		})
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *FeeHandlers) writeFeeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrFeeInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "fee amounts must be finite and non-negative", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("fee_error", "failed to calculate fees", http.StatusInternalServerError))
	}
}

func toFeeBreakdownPayload(b domain.FeeBreakdown) feeBreakdownPayload {
	var payload feeBreakdownPayload
	payload.CustomerTotal = roundCents(b.CustomerTotal)
	payload.SellerReceives = roundCents(b.SellerReceives)
	payload.PlatformRevenue = roundCents(b.PlatformRevenue)
	payload.StripeFee = roundCents(b.StripeFee)
	payload.FeeModel = string(b.FeeModel)

	payload.Charge.ProductSubtotal = roundCents(b.Breakdown.ProductSubtotal)
	payload.Charge.Tax = roundCents(b.Breakdown.Tax)
	payload.Charge.Shipping = roundCents(b.Breakdown.Shipping)
	payload.Charge.ProcessingFee = roundCents(b.Breakdown.ProcessingFee)

	payload.Seller.ProductRevenue = roundCents(b.SellerBreakdown.ProductRevenue)
	payload.Seller.TaxCollected = roundCents(b.SellerBreakdown.TaxCollected)
	payload.Seller.TotalEarnings = roundCents(b.SellerBreakdown.TotalEarnings)

	payload.Platform.Commission = roundCents(b.PlatformBreakdown.Commission)
	payload.Platform.ShippingRevenue = roundCents(b.PlatformBreakdown.ShippingRevenue)
	payload.Platform.StripeFeesCovered = roundCents(b.PlatformBreakdown.StripeFeesCovered)
	payload.Platform.NetRevenue = roundCents(b.PlatformBreakdown.NetRevenue)

	payload.Stripe.PercentageFee = roundCents(b.StripeBreakdown.PercentageFee)
	payload.Stripe.FixedFee = roundCents(b.StripeBreakdown.FixedFee)
	payload.Stripe.TotalFee = roundCents(b.StripeBreakdown.TotalFee)

	return payload
}
