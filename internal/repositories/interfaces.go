// Package repositories declares the narrow persistence contracts the
// settlement engine consumes. Storefront CRUD lives elsewhere; checkout only
// needs to read carts and seller store profiles.
package repositories

import (
	"context"
	"time"

	domain "github.com/vesoko/marketplace-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for
// dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Stores() StoreRepository
}

// RepositoryError wraps low-level persistence failures with categorisation
// used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository reads cart documents and records checkout metadata.
type CartRepository interface {
	// GetCart loads the cart owned by the user. Returns a RepositoryError
	// with IsNotFound when the user has no cart.
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	// SetCheckoutMetadata stores the checkout/settlement snapshot on the cart
	// document. expectedUpdate enables optimistic locking; nil skips the
	// precondition.
	SetCheckoutMetadata(ctx context.Context, cartID string, metadata map[string]any, expectedUpdate *time.Time) error
}

// StoreRepository resolves seller store profiles, including the shipping
// origin address used for rate requests.
type StoreRepository interface {
	// GetStore loads one seller's store profile. Returns a RepositoryError
	// with IsNotFound when the store does not exist.
	GetStore(ctx context.Context, storeID string) (domain.Store, error)
}
