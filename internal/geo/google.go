package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"googlemaps.github.io/maps"
)

// googleAPI narrows the maps client surface for testing.
type googleAPI interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// GoogleProviderConfig configures the Google Maps backed geo provider.
type GoogleProviderConfig struct {
	APIKey      string
	CallTimeout time.Duration
	Client      googleAPI
}

// GoogleProvider implements Geocoder and RouteEstimator against the Google
// Maps geocoding and directions APIs. Calls are bounded by a per-call timeout
// and retried once; both are billed per call, so retries stay conservative.
type GoogleProvider struct {
	api     googleAPI
	timeout time.Duration
}

const defaultGeoCallTimeout = 5 * time.Second

// NewGoogleProvider constructs a GoogleProvider from an API key.
func NewGoogleProvider(cfg GoogleProviderConfig) (*GoogleProvider, error) {
	api := cfg.Client
	if api == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("google geo: api key is required")
		}
		client, err := maps.NewClient(maps.WithAPIKey(key))
		if err != nil {
			return nil, fmt.Errorf("google geo: create client: %w", err)
		}
		api = client
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultGeoCallTimeout
	}
	return &GoogleProvider{api: api, timeout: timeout}, nil
}

// Geocode resolves a free-text address via the geocoding API.
func (p *GoogleProvider) Geocode(ctx context.Context, address string) (LatLng, error) {
	var results []maps.GeocodingResult
	err := p.attempt(ctx, func(callCtx context.Context) error {
		var callErr error
		results, callErr = p.api.Geocode(callCtx, &maps.GeocodingRequest{Address: address})
		return callErr
	})
	if err != nil {
		return LatLng{}, fmt.Errorf("google geo: geocode: %w", err)
	}
	if len(results) == 0 {
		return LatLng{}, ErrNoResults
	}
	loc := results[0].Geometry.Location
	return LatLng{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// DrivingDistanceMeters requests a driving route and sums the leg distances.
func (p *GoogleProvider) DrivingDistanceMeters(ctx context.Context, origin, dest LatLng) (float64, error) {
	req := &maps.DirectionsRequest{
		Origin:      formatLatLng(origin),
		Destination: formatLatLng(dest),
		Mode:        maps.TravelModeDriving,
	}

	var routes []maps.Route
	err := p.attempt(ctx, func(callCtx context.Context) error {
		var callErr error
		routes, _, callErr = p.api.Directions(callCtx, req)
		return callErr
	})
	if err != nil {
		return 0, fmt.Errorf("google geo: directions: %w", err)
	}
	if len(routes) == 0 {
		return 0, ErrNoResults
	}

	var meters float64
	for _, leg := range routes[0].Legs {
		if leg != nil {
			meters += float64(leg.Distance.Meters)
		}
	}
	return meters, nil
}

// attempt runs the call with a per-call timeout and a single retry.
func (p *GoogleProvider) attempt(ctx context.Context, call func(context.Context) error) error {
	var lastErr error
	for tries := 0; tries < 2; tries++ {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		lastErr = call(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func formatLatLng(p LatLng) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
