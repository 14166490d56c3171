// Package geo resolves addresses to coordinates and gates same-day delivery
// on driving distance. Every provider failure degrades toward "not
// serviceable" because same-day delivery is an optional upsell that must
// never error an entire checkout.
package geo

import "context"

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64
	Lng float64
}

// Geocoder resolves a free-text address to coordinates. Implementations
// return ErrNoResults when the provider answers with an empty result set.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (LatLng, error)
}

// RouteEstimator computes a driving route between two coordinates and
// reports its length in meters.
type RouteEstimator interface {
	DrivingDistanceMeters(ctx context.Context, origin, dest LatLng) (float64, error)
}
