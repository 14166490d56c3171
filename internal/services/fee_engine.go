package services

import (
	"errors"
	"fmt"
	"math"

	domain "github.com/vesoko/marketplace-api/internal/domain"
)

var (
	// ErrFeeInvalidInput signals malformed numeric input such as negative or
	// non-finite amounts. The engine has no sensible degraded output, so
	// callers must validate before charging.
	ErrFeeInvalidInput = errors.New("fees: invalid input")
	// ErrFeeInvalidPolicy signals an unusable fee schedule.
	ErrFeeInvalidPolicy = errors.New("fees: invalid policy")
)

// FeeInput is the per-suborder input to a settlement calculation.
type FeeInput struct {
	ProductSubtotal float64
	TaxAmount       float64
	ShippingCost    float64
	GrossUpFees     bool
}

// FeeEngine computes settlement breakdowns. It is pure: no I/O, no clock, no
// side effects, so it can be called redundantly for UI previews.
type FeeEngine struct {
	policy domain.FeePolicy
}

// NewFeeEngine validates the fee schedule and returns an engine bound to it.
func NewFeeEngine(policy domain.FeePolicy) (*FeeEngine, error) {
	if !isFiniteNonNegative(policy.PlatformFeePercentage) || policy.PlatformFeePercentage >= 1 {
		return nil, fmt.Errorf("%w: platform fee percentage %v", ErrFeeInvalidPolicy, policy.PlatformFeePercentage)
	}
	if !isFiniteNonNegative(policy.StripePercentageFee) || policy.StripePercentageFee >= 1 {
		return nil, fmt.Errorf("%w: stripe percentage fee %v", ErrFeeInvalidPolicy, policy.StripePercentageFee)
	}
	if !isFiniteNonNegative(policy.StripeFixedFee) {
		return nil, fmt.Errorf("%w: stripe fixed fee %v", ErrFeeInvalidPolicy, policy.StripeFixedFee)
	}
	return &FeeEngine{policy: policy}, nil
}

// Policy returns the fee schedule the engine was built with.
func (e *FeeEngine) Policy() domain.FeePolicy {
	return e.policy
}

// Calculate turns one suborder's amounts into a complete settlement
// breakdown. Regardless of fee model the seller receives exactly
// productSubtotal + taxAmount; commission and processor costs are funded by
// the customer-facing total and the platform's commission/shipping margin.
func (e *FeeEngine) Calculate(in FeeInput) (domain.FeeBreakdown, error) {
	if err := validateFeeInput(in); err != nil {
		return domain.FeeBreakdown{}, err
	}

	base := in.ProductSubtotal + in.TaxAmount + in.ShippingCost
	commission := e.policy.PlatformFeePercentage * in.ProductSubtotal
	sellerReceives := in.ProductSubtotal + in.TaxAmount

	var (
		customerTotal float64
		processingFee float64
		model         domain.FeeModel
	)
	if in.GrossUpFees {
		model = domain.FeeModelGrossUp
		customerTotal = (base + e.policy.StripeFixedFee) / (1 - e.policy.StripePercentageFee)
		processingFee = customerTotal - base
	} else {
		model = domain.FeeModelAbsorb
		customerTotal = base
		processingFee = 0
	}

	percentageFee := e.policy.StripePercentageFee * customerTotal
	stripeFee := percentageFee + e.policy.StripeFixedFee

	platform := domain.PlatformBreakdown{
		Commission:      commission,
		ShippingRevenue: in.ShippingCost,
	}
	if in.GrossUpFees {
		// The processing fee charged on top funds the processor; commission
		// and shipping margin are fully preserved.
		platform.StripeFeesCovered = 0
		platform.NetRevenue = commission + in.ShippingCost
	} else {
		platform.StripeFeesCovered = stripeFee
		platform.NetRevenue = commission + in.ShippingCost - stripeFee
	}

	return domain.FeeBreakdown{
		CustomerTotal: customerTotal,
		Breakdown: domain.ChargeBreakdown{
			ProductSubtotal: in.ProductSubtotal,
			Tax:             in.TaxAmount,
			Shipping:        in.ShippingCost,
			ProcessingFee:   processingFee,
		},
		SellerReceives: sellerReceives,
		SellerBreakdown: domain.SellerBreakdown{
			ProductRevenue: in.ProductSubtotal,
			TaxCollected:   in.TaxAmount,
			TotalEarnings:  sellerReceives,
		},
		PlatformRevenue:   platform.NetRevenue,
		PlatformBreakdown: platform,
		StripeFee:         stripeFee,
		StripeBreakdown: domain.StripeBreakdown{
			PercentageFee: percentageFee,
			FixedFee:      e.policy.StripeFixedFee,
			TotalFee:      stripeFee,
		},
		FeeModel: model,
	}, nil
}

// CalculateMultiSeller settles each suborder independently and sums the
// cart-level totals. Each seller's settlement is computed in isolation so no
// seller's commission or fees are ever funded from another seller's order.
func (e *FeeEngine) CalculateMultiSeller(suborders []domain.SubOrder, grossUpFees bool) (domain.MultiSellerSettlement, error) {
	if len(suborders) == 0 {
		return domain.MultiSellerSettlement{}, fmt.Errorf("%w: no suborders", ErrFeeInvalidInput)
	}

	model := domain.FeeModelAbsorb
	if grossUpFees {
		model = domain.FeeModelGrossUp
	}

	settlement := domain.MultiSellerSettlement{
		Suborders: make([]domain.SellerSettlement, 0, len(suborders)),
		FeeModel:  model,
	}

	for _, sub := range suborders {
		fees, err := e.Calculate(FeeInput{
			ProductSubtotal: sub.ProductSubtotal,
			TaxAmount:       sub.TaxAmount,
			ShippingCost:    sub.ShippingCost,
			GrossUpFees:     grossUpFees,
		})
		if err != nil {
			return domain.MultiSellerSettlement{}, fmt.Errorf("suborder %s: %w", sub.SellerID, err)
		}
		settlement.Suborders = append(settlement.Suborders, domain.SellerSettlement{
			SellerID: sub.SellerID,
			Fees:     fees,
		})
		settlement.CustomerTotal += fees.CustomerTotal
		settlement.TotalSellerPayouts += fees.SellerReceives
		settlement.TotalPlatformRevenue += fees.PlatformRevenue
	}

	return settlement, nil
}

func validateFeeInput(in FeeInput) error {
	if !isFiniteNonNegative(in.ProductSubtotal) {
		return fmt.Errorf("%w: product subtotal %v", ErrFeeInvalidInput, in.ProductSubtotal)
	}
	if !isFiniteNonNegative(in.TaxAmount) {
		return fmt.Errorf("%w: tax amount %v", ErrFeeInvalidInput, in.TaxAmount)
	}
	if !isFiniteNonNegative(in.ShippingCost) {
		return fmt.Errorf("%w: shipping cost %v", ErrFeeInvalidInput, in.ShippingCost)
	}
	return nil
}

func isFiniteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
