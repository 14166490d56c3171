package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/vesoko/marketplace-api/internal/domain"
	pfirestore "github.com/vesoko/marketplace-api/internal/platform/firestore"
	"github.com/vesoko/marketplace-api/internal/repositories"
)

const (
	storeCollection = "stores"
)

// StoreRepository reads seller store profiles from Firestore. Stores carry the
// shipping origin address used when quoting carrier rates.
type StoreRepository struct {
	base *pfirestore.Collection[storeDocument]
}

// NewStoreRepository constructs a Firestore-backed store repository.
func NewStoreRepository(provider *pfirestore.Provider) (*StoreRepository, error) {
	if provider == nil {
		return nil, errors.New("store repository requires firestore provider")
	}
	return &StoreRepository{base: pfirestore.NewCollection[storeDocument](provider, storeCollection)}, nil
}

// GetStore loads a seller store by its document ID.
func (r *StoreRepository) GetStore(ctx context.Context, storeID string) (domain.Store, error) {
	if r == nil || r.base == nil {
		return domain.Store{}, errors.New("store repository not initialised")
	}
	id := strings.TrimSpace(storeID)
	if id == "" {
		return domain.Store{}, errors.New("store repository: store id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Store{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type storeDocument struct {
	Name      string           `firestore:"name"`
	Email     string           `firestore:"email,omitempty"`
	Address   *addressDocument `firestore:"address,omitempty"`
	CreatedAt time.Time        `firestore:"createdAt"`
}

type addressDocument struct {
	Name       string `firestore:"name,omitempty"`
	Street1    string `firestore:"street1"`
	Street2    string `firestore:"street2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
	Email      string `firestore:"email,omitempty"`
}

func (d storeDocument) toDomain(id string) domain.Store {
	store := domain.Store{
		ID:    id,
		Name:  strings.TrimSpace(d.Name),
		Email: strings.TrimSpace(d.Email),
	}
	if d.Address != nil {
		store.Address = &domain.Address{
			Name:       strings.TrimSpace(d.Address.Name),
			Street1:    strings.TrimSpace(d.Address.Street1),
			Street2:    strings.TrimSpace(d.Address.Street2),
			City:       strings.TrimSpace(d.Address.City),
			State:      strings.TrimSpace(d.Address.State),
			PostalCode: strings.TrimSpace(d.Address.PostalCode),
			Country:    strings.TrimSpace(d.Address.Country),
			Phone:      strings.TrimSpace(d.Address.Phone),
			Email:      strings.TrimSpace(d.Address.Email),
		}
	}
	return store
}

var _ repositories.StoreRepository = (*StoreRepository)(nil)
