package domain

// FeeModel selects who funds the payment-processor fee for a suborder.
type FeeModel string

const (
	// FeeModelGrossUp inflates the customer total so the processor fee never
	// erodes the base amount.
	FeeModelGrossUp FeeModel = "gross-up"
	// FeeModelAbsorb charges the customer the plain base and deducts the
	// processor fee from platform revenue.
	FeeModelAbsorb FeeModel = "absorb"
)

// FeePolicy is the configurable fee schedule passed into the calculation
// engine. Rates are fractions, the fixed fee is in currency units.
type FeePolicy struct {
	PlatformFeePercentage float64
	StripePercentageFee   float64
	StripeFixedFee        float64
}

// DefaultFeePolicy returns the platform's standard fee schedule.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		PlatformFeePercentage: 0.10,
		StripePercentageFee:   0.029,
		StripeFixedFee:        0.30,
	}
}

// ChargeBreakdown itemises what the customer is asked to pay.
type ChargeBreakdown struct {
	ProductSubtotal float64
	Tax             float64
	Shipping        float64
	ProcessingFee   float64
}

// SellerBreakdown itemises the seller payout. TotalEarnings is always
// product revenue plus collected tax; commission and processing costs are
// never deducted from it.
type SellerBreakdown struct {
	ProductRevenue float64
	TaxCollected   float64
	TotalEarnings  float64
}

// PlatformBreakdown itemises platform-side revenue for one suborder.
// NetRevenue may be negative for very small absorb-model orders; it is
// surfaced as-is so operators can see loss-making orders.
type PlatformBreakdown struct {
	Commission        float64
	ShippingRevenue   float64
	StripeFeesCovered float64
	NetRevenue        float64
}

// StripeBreakdown itemises the processor fee on the charged total.
type StripeBreakdown struct {
	PercentageFee float64
	FixedFee      float64
	TotalFee      float64
}

// FeeBreakdown is the complete settlement for one seller's suborder. Pure
// value object with no lifecycle beyond a single calculation.
type FeeBreakdown struct {
	CustomerTotal     float64
	Breakdown         ChargeBreakdown
	SellerReceives    float64
	SellerBreakdown   SellerBreakdown
	PlatformRevenue   float64
	PlatformBreakdown PlatformBreakdown
	StripeFee         float64
	StripeBreakdown   StripeBreakdown
	FeeModel          FeeModel
}

// SubOrder is the per-seller input to the multi-seller settlement: the
// seller's product subtotal, tax, and the shipping cost of the option the
// customer selected for that seller.
type SubOrder struct {
	SellerID        string
	ProductSubtotal float64
	TaxAmount       float64
	ShippingCost    float64
}

// SellerSettlement pairs a seller with their computed fee breakdown.
type SellerSettlement struct {
	SellerID string
	Fees     FeeBreakdown
}

// MultiSellerSettlement aggregates independent per-seller settlements into
// cart-level totals. No cross-seller fee sharing occurs.
type MultiSellerSettlement struct {
	Suborders            []SellerSettlement
	CustomerTotal        float64
	TotalSellerPayouts   float64
	TotalPlatformRevenue float64
	FeeModel             FeeModel
}
