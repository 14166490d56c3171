package domain

import (
	"strings"
	"time"
)

// Address is a postal address as stored on stores and submitted at checkout.
// Street2, Phone, and Email are optional.
type Address struct {
	Name       string
	Street1    string
	Street2    string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	Email      string
}

// OneLine renders the address as a single free-text line suitable for
// geocoding requests.
func (a Address) OneLine() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street1, a.City, a.State, a.PostalCode, a.Country} {
		if v := strings.TrimSpace(p); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// IsZero reports whether no address fields carry data.
func (a Address) IsZero() bool {
	return a.OneLine() == "" && strings.TrimSpace(a.Name) == ""
}

// StoreRef references a seller store as carried on cart line documents.
// Depending on how the line was written it may be a populated object or just
// an identifier; the resolver in services treats both.
type StoreRef struct {
	ID   string
	Name string
}

// CartLine is a single read-only cart line item. Seller identity may be
// recorded in any of four historical fields; physical attributes are zero when
// the product never declared them and are defaulted by the parcel builder.
type CartLine struct {
	ProductID string
	Title     string

	SellerStore *StoreRef
	SellerID    string
	Store       *StoreRef
	StoreID     string

	UnitPrice float64
	Quantity  int
	TaxRate   float64

	WeightPounds float64
	LengthInches float64
	WidthInches  float64
	HeightInches float64
}

// Subtotal returns the pre-tax line subtotal.
func (l CartLine) Subtotal() float64 {
	if l.Quantity <= 0 {
		return 0
	}
	return l.UnitPrice * float64(l.Quantity)
}

// Cart is the persisted cart header plus its lines, read through the cart
// repository. The settlement engine never mutates it.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartLine
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the seller profile consumed for shipping-origin resolution.
type Store struct {
	ID      string
	Name    string
	Email   string
	Address *Address
}

// HasShippingOrigin reports whether the store carries a usable origin address.
func (s Store) HasShippingOrigin() bool {
	return s.Address != nil && !s.Address.IsZero()
}
