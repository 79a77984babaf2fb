package repositories

import (
	"context"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Carts() CartRepository
	Addresses() AddressRepository
	Prescriptions() PrescriptionRepository
	Promotions() PromotionRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Returns() ReturnRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository is the read model over product variants. Stock counters on
// variant documents are mutated only through OrderRepository.PlaceOrder.
type CatalogRepository interface {
	GetVariant(ctx context.Context, variantID string) (domain.Variant, error)
	GetVariants(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error)
}

// CartRepository reads and clears the session-held cart. Clearing happens only
// inside the checkout transaction via OrderRepository.PlaceOrder.
type CartRepository interface {
	Get(ctx context.Context, customerID string) (domain.Cart, error)
	Clear(ctx context.Context, customerID string) error
}

// AddressRepository resolves customer shipping destinations.
type AddressRepository interface {
	GetActive(ctx context.Context, customerID string, addressID string) (domain.Address, error)
}

// PrescriptionRepository resolves customer-owned prescriptions.
type PrescriptionRepository interface {
	GetActive(ctx context.Context, customerID string, prescriptionID string) (domain.Prescription, error)
}

// PromotionRepository resolves promotion codes. Usage counters move only
// inside the checkout transaction.
type PromotionRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Promotion, error)
}

// CheckoutAssembler builds the order from variant and promotion state read
// inside the placing transaction. Implementations must be pure: the repository
// may invoke the assembler more than once under transaction retry.
type CheckoutAssembler func(variants map[string]domain.Variant, promo *domain.Promotion) (domain.Order, domain.AllocationPlan, error)

// PlaceOrderCommand carries everything the repository needs to commit a
// checkout as one atomic unit.
type PlaceOrderCommand struct {
	CustomerID string
	VariantIDs []string
	PromoCode  string
	Assemble   CheckoutAssembler
	Now        time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists orders and owns the transactional boundaries the
// checkout and lifecycle flows rely on.
type OrderRepository interface {
	// PlaceOrder re-reads the variants and promotion inside one transaction,
	// runs the assembler, writes the order, applies the stock decrements,
	// bumps the promotion usage counter and clears the cart. Failure leaves
	// no partial state.
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error)

	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// ApplyTransition re-reads the order inside a transaction, applies the
	// mutation and writes the result. The mutation runs against current
	// state, so concurrent updates cannot be lost.
	ApplyTransition(ctx context.Context, orderID string, apply func(domain.Order) (domain.Order, error)) (domain.Order, error)

	// ExpireStaleOrders deletes unpaid awaiting-payment orders created before
	// the cutoff. The predicate is re-checked inside each per-order update so
	// an order paid between query and write is never deleted. Returns the
	// expired order ids.
	ExpireStaleOrders(ctx context.Context, cutoff time.Time, now time.Time) ([]string, error)
}

// GatewayResultCommand applies one verified gateway callback.
type GatewayResultCommand struct {
	RequestID            string
	Success              bool
	GatewayTransactionID *string
	RawResponse          map[string]any
	// Payment describes the confirmed Payment to materialize on success. Its
	// ID must be deterministic for the (order, type, method, amount) tuple so
	// replays cannot create duplicates.
	Payment domain.Payment
	Now     time.Time
}

// GatewayResultOutcome reports what a reconciliation attempt changed.
type GatewayResultOutcome struct {
	Transaction    domain.PaymentTransaction
	Order          domain.Order
	Replayed       bool
	PaymentCreated bool
}

// PaymentRepository stores payment transactions and materialized payments.
// Transaction documents are keyed by request id, which makes duplicate
// creation structurally impossible.
type PaymentRepository interface {
	InsertTransaction(ctx context.Context, tx domain.PaymentTransaction) error
	GetTransaction(ctx context.Context, requestID string) (domain.PaymentTransaction, error)
	LatestTransaction(ctx context.Context, orderID string) (domain.PaymentTransaction, error)

	// ApplyGatewayResult performs the idempotent reconciliation write: flip
	// the pending transaction, materialize at most one confirmed payment and
	// move the owning order out of awaiting-payment, all in one transaction.
	ApplyGatewayResult(ctx context.Context, cmd GatewayResultCommand) (GatewayResultOutcome, error)

	InsertPayment(ctx context.Context, payment domain.Payment) error
	ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// ReturnRepository persists return/exchange/warranty requests.
type ReturnRepository interface {
	// Create writes the request and flips the delivered order to
	// return-requested in one transaction. The guard runs against the order
	// state read inside that transaction.
	Create(ctx context.Context, request domain.ReturnRequest, guard func(domain.Order) error) (domain.ReturnRequest, error)

	FindByID(ctx context.Context, requestID string) (domain.ReturnRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error)

	// ApplyTransition updates the request and its owning order together.
	ApplyTransition(ctx context.Context, requestID string, apply func(domain.ReturnRequest, domain.Order) (domain.ReturnRequest, domain.Order, error)) (domain.ReturnRequest, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
