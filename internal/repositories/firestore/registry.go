package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/vesoko/marketplace-api/internal/platform/firestore"
	"github.com/vesoko/marketplace-api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind a single handle so
// the container can close the shared client once.
type Registry struct {
	provider *pfirestore.Provider
	carts    *CartRepository
	stores   *StoreRepository
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	stores, err := NewStoreRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		carts:    carts,
		stores:   stores,
	}, nil
}

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository {
	return r.carts
}

// Stores returns the store repository.
func (r *Registry) Stores() repositories.StoreRepository {
	return r.stores
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
