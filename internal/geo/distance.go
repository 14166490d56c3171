package geo

import (
	"context"
	"errors"
	"strings"
)

// ErrNoResults is returned by providers when a lookup succeeds but yields no
// usable result.
var ErrNoResults = errors.New("geo: no results")

const (
	// DefaultSameDayThresholdMiles is the driving distance within which
	// same-day courier delivery is offered.
	DefaultSameDayThresholdMiles = 10.0

	metersPerMile = 1609.344
)

// DistanceCheckerDeps wires the providers required by the checker.
type DistanceCheckerDeps struct {
	Geocoder       Geocoder
	Routes         RouteEstimator
	ThresholdMiles float64
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// DistanceChecker resolves addresses and computes driving distances, failing
// closed on any provider error.
type DistanceChecker struct {
	geocoder  Geocoder
	routes    RouteEstimator
	threshold float64
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewDistanceChecker constructs a DistanceChecker validating required
// dependencies.
func NewDistanceChecker(deps DistanceCheckerDeps) (*DistanceChecker, error) {
	if deps.Geocoder == nil {
		return nil, errors.New("distance checker: geocoder is required")
	}
	if deps.Routes == nil {
		return nil, errors.New("distance checker: route estimator is required")
	}
	threshold := deps.ThresholdMiles
	if threshold <= 0 {
		threshold = DefaultSameDayThresholdMiles
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DistanceChecker{
		geocoder:  deps.Geocoder,
		routes:    deps.Routes,
		threshold: threshold,
		logger:    logger,
	}, nil
}

// ResolveCoordinates geocodes a free-text address. A provider error or empty
// result set is logged and yields nil, never an error.
func (c *DistanceChecker) ResolveCoordinates(ctx context.Context, address string) *LatLng {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	point, err := c.geocoder.Geocode(ctx, address)
	if err != nil {
		c.logger(ctx, "geo.geocode_failed", map[string]any{
			"address": address,
			"error":   err.Error(),
		})
		return nil
	}
	return &point
}

// DrivingDistanceMiles geocodes both addresses and measures the driving route
// between them. Any failure along the chain yields nil.
func (c *DistanceChecker) DrivingDistanceMiles(ctx context.Context, originAddress, destAddress string) *float64 {
	origin := c.ResolveCoordinates(ctx, originAddress)
	if origin == nil {
		return nil
	}
	dest := c.ResolveCoordinates(ctx, destAddress)
	if dest == nil {
		return nil
	}

	meters, err := c.routes.DrivingDistanceMeters(ctx, *origin, *dest)
	if err != nil {
		c.logger(ctx, "geo.route_failed", map[string]any{"error": err.Error()})
		return nil
	}

	miles := meters / metersPerMile
	return &miles
}

// IsSameDayServiceable reports whether the destination lies within the
// same-day driving threshold of the origin. False on any provider failure.
func (c *DistanceChecker) IsSameDayServiceable(ctx context.Context, originAddress, destAddress string) bool {
	miles := c.DrivingDistanceMiles(ctx, originAddress, destAddress)
	if miles == nil {
		return false
	}
	return *miles <= c.threshold
}

// ThresholdMiles returns the configured same-day distance gate.
func (c *DistanceChecker) ThresholdMiles() float64 {
	return c.threshold
}
