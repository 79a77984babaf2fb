package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/eyeline-optics/api/internal/platform/firestore"
	"github.com/eyeline-optics/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract. All repositories share one lazily
// initialised client through the provider.
type Registry struct {
	provider *pfirestore.Provider

	catalog       *CatalogRepository
	carts         *CartRepository
	addresses     *AddressRepository
	prescriptions *PrescriptionRepository
	promotions    *PromotionRepository
	orders        *OrderRepository
	payments      *PaymentRepository
	returns       *ReturnRepository
	counters      *CounterRepository

	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises Registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository wires the health repository exposed through the registry.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry constructs every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	reg := &Registry{provider: provider}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}

	var err error
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.addresses, err = NewAddressRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.prescriptions, err = NewPrescriptionRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.promotions, err = NewPromotionRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.payments, err = NewPaymentRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.returns, err = NewReturnRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	return reg, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Catalog returns the variant read model.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Addresses returns the address repository.
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

// Prescriptions returns the prescription repository.
func (r *Registry) Prescriptions() repositories.PrescriptionRepository { return r.prescriptions }

// Promotions returns the promotion repository.
func (r *Registry) Promotions() repositories.PromotionRepository { return r.promotions }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Payments returns the payment repository.
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

// Returns returns the return-request repository.
func (r *Registry) Returns() repositories.ReturnRepository { return r.returns }

// Counters returns the sequence counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository, which may be nil when no
// checks were configured.
func (r *Registry) Health() repositories.HealthRepository { return r.health }
