package domain

import "time"

// SellerIDSource names the cart line field that produced a seller identifier.
type SellerIDSource string

const (
	// SellerIDFromSellerStore means the populated sellerStore reference matched.
	SellerIDFromSellerStore SellerIDSource = "sellerStore"
	// SellerIDFromSellerID means the scalar sellerId field matched.
	SellerIDFromSellerID SellerIDSource = "sellerId"
	// SellerIDFromStore means the populated store reference matched.
	SellerIDFromStore SellerIDSource = "store"
	// SellerIDFromStoreID means the scalar storeId field matched.
	SellerIDFromStoreID SellerIDSource = "storeId"
)

// SellerResolution is the tagged outcome of the seller-identifier fallback
// chain for one cart line.
type SellerResolution struct {
	SellerID string
	Source   SellerIDSource
	Resolved bool
}

// SellerGroup holds the cart lines belonging to one seller, in the order the
// lines appeared in the cart.
type SellerGroup struct {
	SellerID string
	Items    []CartLine
}

// GroupedCart is the partition of a cart into per-seller groups. Lines whose
// seller could not be resolved are surfaced in Unassigned rather than dropped.
type GroupedCart struct {
	Groups     []SellerGroup
	Unassigned []CartLine
}

// ParcelSpec describes the single physical parcel built for one seller group.
// Dimensions are inches and weight is pounds, string-encoded because carrier
// rate APIs expect decimal strings.
type ParcelSpec struct {
	Length       string
	Width        string
	Height       string
	Weight       string
	DistanceUnit string
	MassUnit     string
}

// ShippingOptionType distinguishes standard carrier rates from same-day
// courier quotes.
type ShippingOptionType string

const (
	// ShippingStandard is a multi-carrier ground/standard rate.
	ShippingStandard ShippingOptionType = "standard"
	// ShippingSameDay is a distance-gated courier quote.
	ShippingSameDay ShippingOptionType = "same_day"
)

// ShippingOption is one normalised delivery choice presented to the customer.
// Options expire per carrier TTL; callers re-quote before purchase.
type ShippingOption struct {
	RateID        string
	Label         string
	DeliveryTime  time.Time
	Price         float64
	Provider      string
	ServiceLevel  string
	DurationTerms string
	Type          ShippingOptionType
}

// ShippingGroup carries the delivery options fetched for one seller. Error
// and SameDayError are explanatory stubs; a failure for one group never
// affects the others.
type ShippingGroup struct {
	GroupID         string
	Items           []CartLine
	DeliveryOptions []ShippingOption
	Error           string
	SameDayError    string
}

// ShippingOptionsResult is the aggregator's top-level response. Success is
// false only when the input itself was invalid (empty cart).
type ShippingOptionsResult struct {
	Success         bool
	RequestID       string
	ShippingGroups  []ShippingGroup
	UnassignedItems []CartLine
}
