package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vesoko/marketplace-api/internal/domain"
	pfirestore "github.com/vesoko/marketplace-api/internal/platform/firestore"
	"github.com/vesoko/marketplace-api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists cart documents within Firestore. Carts are keyed by
// the owning user ID so each shopper has a single active cart.
type CartRepository struct {
	base *pfirestore.Collection[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewCollection[cartDocument](provider, cartCollection),
	}, nil
}

// GetCart loads the cart for the given user.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

// SetCheckoutMetadata merges checkout bookkeeping into the cart document. When
// expectedUpdate is provided the write only succeeds if the document has not
// changed since that timestamp.
func (r *CartRepository) SetCheckoutMetadata(ctx context.Context, cartID string, metadata map[string]any, expectedUpdate *time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return errors.New("cart repository: cart id is required")
	}
	if len(metadata) == 0 {
		return errors.New("cart repository: checkout metadata is required")
	}

	now := time.Now().UTC()
	updates := []firestore.Update{
		{Path: "updatedAt", Value: now},
	}
	for key, value := range metadata {
		name := strings.TrimSpace(key)
		if name == "" {
			continue
		}
		updates = append(updates, firestore.Update{Path: "metadata." + name, Value: value})
	}

	var preconditions []firestore.Precondition
	if expectedUpdate != nil && !expectedUpdate.IsZero() {
		preconditions = append(preconditions, firestore.LastUpdateTime(expectedUpdate.UTC()))
	}

	if _, err := r.base.Update(ctx, id, updates, preconditions...); err != nil {
		return err
	}
	return nil
}

type cartDocument struct {
	UserID    string             `firestore:"userId"`
	Items     []cartLineDocument `firestore:"items"`
	Metadata  map[string]any     `firestore:"metadata,omitempty"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID    string            `firestore:"productId"`
	Title        string            `firestore:"title,omitempty"`
	SellerStore  *storeRefDocument `firestore:"sellerStore,omitempty"`
	SellerID     string            `firestore:"sellerId,omitempty"`
	Store        *storeRefDocument `firestore:"store,omitempty"`
	StoreID      string            `firestore:"storeId,omitempty"`
	UnitPrice    float64           `firestore:"unitPrice"`
	Quantity     int               `firestore:"quantity"`
	TaxRate      float64           `firestore:"taxRate,omitempty"`
	WeightPounds float64           `firestore:"weightPounds,omitempty"`
	LengthInches float64           `firestore:"lengthInches,omitempty"`
	WidthInches  float64           `firestore:"widthInches,omitempty"`
	HeightInches float64           `firestore:"heightInches,omitempty"`
}

type storeRefDocument struct {
	ID   string `firestore:"id"`
	Name string `firestore:"name,omitempty"`
}

func (d cartDocument) toDomain(id string, createTime, updateTime time.Time) domain.Cart {
	cart := domain.Cart{
		ID:        id,
		UserID:    strings.TrimSpace(d.UserID),
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if cart.UserID == "" {
		cart.UserID = id
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = createTime
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = updateTime
	}

	if len(d.Items) > 0 {
		cart.Items = make([]domain.CartLine, 0, len(d.Items))
		for _, item := range d.Items {
			cart.Items = append(cart.Items, item.toDomain())
		}
	}
	return cart
}

func (d cartLineDocument) toDomain() domain.CartLine {
	line := domain.CartLine{
		ProductID:    strings.TrimSpace(d.ProductID),
		Title:        strings.TrimSpace(d.Title),
		SellerID:     strings.TrimSpace(d.SellerID),
		StoreID:      strings.TrimSpace(d.StoreID),
		UnitPrice:    d.UnitPrice,
		Quantity:     d.Quantity,
		TaxRate:      d.TaxRate,
		WeightPounds: d.WeightPounds,
		LengthInches: d.LengthInches,
		WidthInches:  d.WidthInches,
		HeightInches: d.HeightInches,
	}
	if d.SellerStore != nil {
		line.SellerStore = &domain.StoreRef{
			ID:   strings.TrimSpace(d.SellerStore.ID),
			Name: strings.TrimSpace(d.SellerStore.Name),
		}
	}
	if d.Store != nil {
		line.Store = &domain.StoreRef{
			ID:   strings.TrimSpace(d.Store.ID),
			Name: strings.TrimSpace(d.Store.Name),
		}
	}
	return line
}

var _ repositories.CartRepository = (*CartRepository)(nil)
