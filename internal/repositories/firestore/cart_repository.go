package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/eyeline-optics/api/internal/domain"
	pfirestore "github.com/eyeline-optics/api/internal/platform/firestore"
)

// CartRepository reads the session-held cart. The checkout transaction clears
// the cart through OrderRepository.PlaceOrder; Clear exists for explicit
// customer-initiated resets.
type CartRepository struct {
	provider *pfirestore.Provider
	carts    *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{provider: provider, carts: base}, nil
}

// Get returns the customer's cart. A missing document is an empty cart, not
// an error.
func (r *CartRepository) Get(ctx context.Context, customerID string) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Cart{}, errors.New("cart: customer id is required")
	}

	doc, err := r.carts.Get(ctx, customerID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Cart{CustomerID: customerID}, nil
		}
		return domain.Cart{}, pfirestore.WrapError("carts.get", err)
	}

	items := make([]domain.CartItem, 0, len(doc.Data.Items))
	for _, item := range doc.Data.Items {
		items = append(items, domain.CartItem{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return domain.Cart{CustomerID: customerID, Items: items, UpdatedAt: doc.Data.UpdatedAt}, nil
}

// Clear removes the customer's cart document.
func (r *CartRepository) Clear(ctx context.Context, customerID string) error {
	if r == nil || r.carts == nil {
		return errors.New("cart repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return errors.New("cart: customer id is required")
	}

	ref, err := r.carts.DocumentRef(ctx, customerID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}
