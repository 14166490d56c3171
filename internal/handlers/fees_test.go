package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/vesoko/marketplace-api/internal/domain"
	"github.com/vesoko/marketplace-api/internal/services"
)

func newFeeTestRouter(t *testing.T) chi.Router {
	t.Helper()
	engine, err := services.NewFeeEngine(domain.DefaultFeePolicy())
	if err != nil {
		t.Fatalf("fee engine: %v", err)
	}
	r := chi.NewRouter()
	NewFeeHandlers(engine).Routes(r)
	return r
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCalculateFeesAbsorb(t *testing.T) {
	router := newFeeTestRouter(t)
	rec := postJSON(t, router, "/fees", `{"productSubtotal": 100, "taxAmount": 6, "shippingCost": 10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload feeBreakdownPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.FeeModel != "absorb" {
		t.Fatalf("unexpected fee model %q", payload.FeeModel)
	}
	if payload.CustomerTotal != 116 {
		t.Fatalf("expected customer pays the plain base, got %v", payload.CustomerTotal)
	}
	if payload.SellerReceives != 106 {
		t.Fatalf("expected seller payout 106, got %v", payload.SellerReceives)
	}
	if payload.StripeFee != 3.66 {
		t.Fatalf("expected processor fee 3.66, got %v", payload.StripeFee)
	}
	if payload.Charge.ProcessingFee != 0 {
		t.Fatalf("absorb must not surcharge the customer, got %v", payload.Charge.ProcessingFee)
	}
	if payload.Platform.NetRevenue != 16.34 {
		t.Fatalf("expected platform net 16.34, got %v", payload.Platform.NetRevenue)
	}
}

func TestCalculateFeesGrossUp(t *testing.T) {
	router := newFeeTestRouter(t)
	rec := postJSON(t, router, "/fees", `{"productSubtotal": 100, "taxAmount": 6, "shippingCost": 10, "grossUpFees": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload feeBreakdownPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.FeeModel != "gross-up" {
		t.Fatalf("unexpected fee model %q", payload.FeeModel)
	}
	if payload.CustomerTotal != 119.77 {
		t.Fatalf("expected grossed-up total 119.77, got %v", payload.CustomerTotal)
	}
	if payload.Charge.ProcessingFee != 3.77 {
		t.Fatalf("expected surfaced processing fee 3.77, got %v", payload.Charge.ProcessingFee)
	}
	if payload.SellerReceives != 106 {
		t.Fatalf("expected seller payout unchanged, got %v", payload.SellerReceives)
	}
	if payload.Platform.StripeFeesCovered != 0 {
		t.Fatalf("gross-up means the platform covers nothing, got %v", payload.Platform.StripeFeesCovered)
	}
	if payload.Platform.NetRevenue != 20 {
		t.Fatalf("expected platform net 20, got %v", payload.Platform.NetRevenue)
	}
}

func TestCalculateFeesRejectsInvalidInput(t *testing.T) {
	router := newFeeTestRouter(t)

	rec := postJSON(t, router, "/fees", `{"productSubtotal": -5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative subtotal, got %d", rec.Code)
	}
	var envelope map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope["error"] != "invalid_request" {
		t.Fatalf("unexpected error code %v", envelope["error"])
	}

	rec = postJSON(t, router, "/fees", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}

	rec = postJSON(t, router, "/fees", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}

	rec = postJSON(t, router, "/fees", `{"productSubtotal": 1, "padding": "`+strings.Repeat("x", maxFeeRequestBody)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rec.Code)
	}
}

func TestCalculateMultiSellerFees(t *testing.T) {
	router := newFeeTestRouter(t)
	rec := postJSON(t, router, "/fees/multi", `{
		"suborders": [
			{"sellerId": "seller-alpha", "productSubtotal": 50, "taxAmount": 3, "shippingCost": 5},
			{"sellerId": "seller-beta", "productSubtotal": 75.25, "shippingCost": 8.50}
		]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload multiFeeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.FeeModel != "absorb" {
		t.Fatalf("unexpected fee model %q", payload.FeeModel)
	}
	if len(payload.Suborders) != 2 {
		t.Fatalf("expected two suborders, got %d", len(payload.Suborders))
	}
	if payload.Suborders[0].SellerID != "seller-alpha" || payload.Suborders[1].SellerID != "seller-beta" {
		t.Fatalf("suborder order not preserved: %+v", payload.Suborders)
	}
	if payload.CustomerTotal != 141.75 {
		t.Fatalf("expected customer total 141.75, got %v", payload.CustomerTotal)
	}
	if payload.TotalSellerPayouts != 128.25 {
		t.Fatalf("expected payouts 128.25, got %v", payload.TotalSellerPayouts)
	}
	if payload.Suborders[1].Breakdown.CustomerTotal != 83.75 {
		t.Fatalf("expected beta total 83.75, got %v", payload.Suborders[1].Breakdown.CustomerTotal)
	}
}

func TestCalculateMultiSellerFeesRejectsEmpty(t *testing.T) {
	router := newFeeTestRouter(t)
	rec := postJSON(t, router, "/fees/multi", `{"suborders": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty suborders, got %d", rec.Code)
	}
}
