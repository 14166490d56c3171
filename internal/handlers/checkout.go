package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vesoko/marketplace-api/internal/platform/auth"
	"github.com/vesoko/marketplace-api/internal/platform/httpx"
	"github.com/vesoko/marketplace-api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes checkout session creation for authenticated users.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/session", h.createSession)
}

type checkoutSessionRequest struct {
	CartID             string             `json:"cartId,omitempty"`
	SuccessURL         string             `json:"successUrl"`
	CancelURL          string             `json:"cancelUrl"`
	FeeModel           string             `json:"feeModel,omitempty"`
	ShippingSelections map[string]float64 `json:"shippingSelections,omitempty"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

type checkoutSettlementPayload struct {
	CustomerTotal        float64                   `json:"customerTotal"`
	TotalSellerPayouts   float64                   `json:"totalSellerPayouts"`
	TotalPlatformRevenue float64                   `json:"totalPlatformRevenue"`
	FeeModel             string                    `json:"feeModel"`
	Suborders            []sellerSettlementPayload `json:"suborders"`
}

type checkoutSessionResponse struct {
	SessionID    string                    `json:"sessionId"`
	Provider     string                    `json:"provider"`
	URL          string                    `json:"url,omitempty"`
	ClientSecret string                    `json:"clientSecret,omitempty"`
	ExpiresAt    string                    `json:"expiresAt,omitempty"`
	Settlement   checkoutSettlementPayload `json:"settlement"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.CreateCheckoutSessionCommand{
		UserID:             identity.UID,
		CartID:             strings.TrimSpace(req.CartID),
		SuccessURL:         strings.TrimSpace(req.SuccessURL),
		CancelURL:          strings.TrimSpace(req.CancelURL),
		FeeModel:           strings.TrimSpace(req.FeeModel),
		ShippingSelections: req.ShippingSelections,
		Metadata:           req.Metadata,
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toCheckoutSessionResponse(session))
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_ready", "cart is empty or has unassigned items", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "cart changed while creating the session", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment provider rejected the session", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to create checkout session", http.StatusInternalServerError))
	}
}

func toCheckoutSessionResponse(session services.CheckoutSession) checkoutSessionResponse {
	settlement := session.Settlement
	suborders := make([]sellerSettlementPayload, 0, len(settlement.Suborders))
	for _, suborder := range settlement.Suborders {
		suborders = append(suborders, sellerSettlementPayload{
			SellerID:  suborder.SellerID,
			Breakdown: toFeeBreakdownPayload(suborder.Fees),
		})
	}

	resp := checkoutSessionResponse{
		SessionID:    session.SessionID,
		Provider:     session.PSP,
		URL:          session.RedirectURL,
		ClientSecret: session.ClientSecret,
		Settlement: checkoutSettlementPayload{
			CustomerTotal:        roundCents(settlement.CustomerTotal),
			TotalSellerPayouts:   roundCents(settlement.TotalSellerPayouts),
			TotalPlatformRevenue: roundCents(settlement.TotalPlatformRevenue),
			FeeModel:             string(settlement.FeeModel),
			Suborders:            suborders,
		},
	}
	if !session.ExpiresAt.IsZero() {
		resp.ExpiresAt = formatTime(session.ExpiresAt)
	}
	return resp
}
