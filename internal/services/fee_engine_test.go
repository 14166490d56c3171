package services

import (
	"errors"
	"math"
	"testing"

	domain "github.com/vesoko/marketplace-api/internal/domain"
)

const feeEpsilon = 1e-6

func newTestFeeEngine(t *testing.T) *FeeEngine {
	t.Helper()
	engine, err := NewFeeEngine(domain.DefaultFeePolicy())
	if err != nil {
		t.Fatalf("expected engine, got error: %v", err)
	}
	return engine
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= feeEpsilon
}

func TestNewFeeEngineRejectsBadPolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy domain.FeePolicy
	}{
		{"commission at one", domain.FeePolicy{PlatformFeePercentage: 1, StripePercentageFee: 0.029, StripeFixedFee: 0.30}},
		{"negative commission", domain.FeePolicy{PlatformFeePercentage: -0.1, StripePercentageFee: 0.029, StripeFixedFee: 0.30}},
		{"stripe rate at one", domain.FeePolicy{PlatformFeePercentage: 0.10, StripePercentageFee: 1, StripeFixedFee: 0.30}},
		{"negative fixed fee", domain.FeePolicy{PlatformFeePercentage: 0.10, StripePercentageFee: 0.029, StripeFixedFee: -0.30}},
		{"nan rate", domain.FeePolicy{PlatformFeePercentage: 0.10, StripePercentageFee: math.NaN(), StripeFixedFee: 0.30}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFeeEngine(tc.policy); !errors.Is(err, ErrFeeInvalidPolicy) {
				t.Fatalf("expected ErrFeeInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestCalculateRejectsInvalidInput(t *testing.T) {
	engine := newTestFeeEngine(t)
	cases := []FeeInput{
		{ProductSubtotal: -1},
		{ProductSubtotal: 10, TaxAmount: math.NaN()},
		{ProductSubtotal: 10, ShippingCost: math.Inf(1)},
	}
	for _, in := range cases {
		if _, err := engine.Calculate(in); !errors.Is(err, ErrFeeInvalidInput) {
			t.Fatalf("expected ErrFeeInvalidInput for %+v, got %v", in, err)
		}
	}
}

func TestCalculateGrossUp(t *testing.T) {
	engine := newTestFeeEngine(t)

	b, err := engine.Calculate(FeeInput{
		ProductSubtotal: 100,
		TaxAmount:       6,
		ShippingCost:    10,
		GrossUpFees:     true,
	})
	if err != nil {
		t.Fatalf("expected breakdown, got error: %v", err)
	}

	if b.FeeModel != domain.FeeModelGrossUp {
		t.Fatalf("expected gross-up model, got %q", b.FeeModel)
	}
	wantTotal := (116.0 + 0.30) / (1 - 0.029)
	if !approxEqual(b.CustomerTotal, wantTotal) {
		t.Fatalf("expected customer total %v, got %v", wantTotal, b.CustomerTotal)
	}
	if !approxEqual(b.Breakdown.ProcessingFee, wantTotal-116.0) {
		t.Fatalf("unexpected processing fee %v", b.Breakdown.ProcessingFee)
	}
	if !approxEqual(b.SellerReceives, 106) {
		t.Fatalf("expected seller receives 106, got %v", b.SellerReceives)
	}
	if !approxEqual(b.PlatformRevenue, 20) {
		t.Fatalf("expected platform revenue 20, got %v", b.PlatformRevenue)
	}
	if b.PlatformBreakdown.StripeFeesCovered != 0 {
		t.Fatalf("gross-up must not absorb processor fees, got %v", b.PlatformBreakdown.StripeFeesCovered)
	}

	// The fee charged on top must exactly fund the processor cost of the
	// grossed-up total.
	base := 116.0
	charged := b.CustomerTotal - base
	cost := 0.029*b.CustomerTotal + 0.30
	if !approxEqual(charged, cost) {
		t.Fatalf("processing fee %v does not fund processor cost %v", charged, cost)
	}
}

func TestCalculateAbsorb(t *testing.T) {
	engine := newTestFeeEngine(t)

	b, err := engine.Calculate(FeeInput{
		ProductSubtotal: 100,
		TaxAmount:       6,
		ShippingCost:    10,
	})
	if err != nil {
		t.Fatalf("expected breakdown, got error: %v", err)
	}

	if b.FeeModel != domain.FeeModelAbsorb {
		t.Fatalf("expected absorb model, got %q", b.FeeModel)
	}
	if !approxEqual(b.CustomerTotal, 116) {
		t.Fatalf("expected customer total 116, got %v", b.CustomerTotal)
	}
	if b.Breakdown.ProcessingFee != 0 {
		t.Fatalf("absorb must not surcharge, got %v", b.Breakdown.ProcessingFee)
	}

	wantStripe := 0.029*116 + 0.30
	if !approxEqual(b.StripeFee, wantStripe) {
		t.Fatalf("expected stripe fee %v, got %v", wantStripe, b.StripeFee)
	}
	if !approxEqual(b.PlatformBreakdown.StripeFeesCovered, wantStripe) {
		t.Fatalf("absorb must cover processor fees, got %v", b.PlatformBreakdown.StripeFeesCovered)
	}
	if !approxEqual(b.PlatformRevenue, 10+10-wantStripe) {
		t.Fatalf("unexpected platform revenue %v", b.PlatformRevenue)
	}
	if !approxEqual(b.SellerReceives, 106) {
		t.Fatalf("expected seller receives 106, got %v", b.SellerReceives)
	}
}

func TestCalculateSellerPayoutNeverFundsFees(t *testing.T) {
	engine := newTestFeeEngine(t)
	inputs := []FeeInput{
		{ProductSubtotal: 0.01, GrossUpFees: true},
		{ProductSubtotal: 0.01},
		{ProductSubtotal: 49.99, TaxAmount: 4.12, ShippingCost: 7.35, GrossUpFees: true},
		{ProductSubtotal: 49.99, TaxAmount: 4.12, ShippingCost: 7.35},
		{ProductSubtotal: 0, TaxAmount: 0, ShippingCost: 5, GrossUpFees: true},
	}
	for _, in := range inputs {
		b, err := engine.Calculate(in)
		if err != nil {
			t.Fatalf("unexpected error for %+v: %v", in, err)
		}
		if !approxEqual(b.SellerReceives, in.ProductSubtotal+in.TaxAmount) {
			t.Fatalf("seller payout %v != subtotal+tax for %+v", b.SellerReceives, in)
		}
		if !approxEqual(b.PlatformBreakdown.Commission, 0.10*in.ProductSubtotal) {
			t.Fatalf("commission %v not taken on subtotal only for %+v", b.PlatformBreakdown.Commission, in)
		}
	}
}

func TestCalculateAbsorbMayGoNegative(t *testing.T) {
	engine := newTestFeeEngine(t)

	b, err := engine.Calculate(FeeInput{ProductSubtotal: 1})
	if err != nil {
		t.Fatalf("expected breakdown, got error: %v", err)
	}
	if b.PlatformRevenue >= 0 {
		t.Fatalf("expected negative platform revenue on tiny absorb order, got %v", b.PlatformRevenue)
	}
}

func TestCalculateMultiSeller(t *testing.T) {
	engine := newTestFeeEngine(t)

	settlement, err := engine.CalculateMultiSeller([]domain.SubOrder{
		{SellerID: "alpha", ProductSubtotal: 50.00, TaxAmount: 3.00, ShippingCost: 5.00},
		{SellerID: "beta", ProductSubtotal: 75.25, TaxAmount: 0, ShippingCost: 8.50},
	}, true)
	if err != nil {
		t.Fatalf("expected settlement, got error: %v", err)
	}

	if settlement.FeeModel != domain.FeeModelGrossUp {
		t.Fatalf("expected gross-up model, got %q", settlement.FeeModel)
	}
	if len(settlement.Suborders) != 2 {
		t.Fatalf("expected 2 suborders, got %d", len(settlement.Suborders))
	}
	if !approxEqual(settlement.TotalSellerPayouts, 53.00+75.25) {
		t.Fatalf("unexpected total payouts %v", settlement.TotalSellerPayouts)
	}

	var customerSum, payoutSum, platformSum float64
	for _, sub := range settlement.Suborders {
		customerSum += sub.Fees.CustomerTotal
		payoutSum += sub.Fees.SellerReceives
		platformSum += sub.Fees.PlatformRevenue
	}
	if !approxEqual(settlement.CustomerTotal, customerSum) {
		t.Fatalf("customer total %v != suborder sum %v", settlement.CustomerTotal, customerSum)
	}
	if !approxEqual(settlement.TotalSellerPayouts, payoutSum) {
		t.Fatalf("payout total %v != suborder sum %v", settlement.TotalSellerPayouts, payoutSum)
	}
	if !approxEqual(settlement.TotalPlatformRevenue, platformSum) {
		t.Fatalf("platform total %v != suborder sum %v", settlement.TotalPlatformRevenue, platformSum)
	}
}

func TestCalculateMultiSellerRejectsEmptyAndBadSuborders(t *testing.T) {
	engine := newTestFeeEngine(t)

	if _, err := engine.CalculateMultiSeller(nil, false); !errors.Is(err, ErrFeeInvalidInput) {
		t.Fatalf("expected ErrFeeInvalidInput for empty suborders, got %v", err)
	}
	_, err := engine.CalculateMultiSeller([]domain.SubOrder{
		{SellerID: "alpha", ProductSubtotal: 10},
		{SellerID: "beta", ProductSubtotal: -1},
	}, false)
	if !errors.Is(err, ErrFeeInvalidInput) {
		t.Fatalf("expected ErrFeeInvalidInput for bad suborder, got %v", err)
	}
}
