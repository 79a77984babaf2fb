package services

import (
	"context"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	Variant              = domain.Variant
	Cart                 = domain.Cart
	CartItem             = domain.CartItem
	Prescription         = domain.Prescription
	PrescriptionSnapshot = domain.PrescriptionSnapshot
	Address              = domain.Address
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderStatus          = domain.OrderStatus
	OrderType            = domain.OrderType
	PaymentState         = domain.PaymentState
	Promotion            = domain.Promotion
	Payment              = domain.Payment
	PaymentTransaction   = domain.PaymentTransaction
	ReturnRequest        = domain.ReturnRequest
	ReturnItem           = domain.ReturnItem
	Role                 = domain.Role
	SystemHealthReport   = domain.SystemHealthReport
)

// CheckoutService validates the cart against catalog, prescription and
// compatibility rules and converts it into an order atomically.
type CheckoutService interface {
	Requirements(ctx context.Context, customerID string) (CheckoutRequirements, error)
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (CheckoutResult, error)
}

// PaymentService opens gateway or manual payments and reconciles gateway
// callbacks idempotently.
type PaymentService interface {
	CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (PaymentCreation, error)
	HandleGatewayCallback(ctx context.Context, cmd GatewayCallbackCommand) (CallbackOutcome, error)
	PaymentStatus(ctx context.Context, orderID string) (PaymentStatusReport, error)
	ListPayments(ctx context.Context, orderID string) ([]Payment, error)
}

// OrderService exposes order reads and the role-gated status state machine.
type OrderService interface {
	ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
}

// ReturnService manages return/exchange/warranty requests and their
// staff-driven lifecycle.
type ReturnService interface {
	CreateReturn(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error)
	GetReturn(ctx context.Context, query GetReturnQuery) (ReturnRequest, error)
	ListReturnsByOrder(ctx context.Context, query ListReturnsQuery) ([]ReturnRequest, error)
	TransitionReturn(ctx context.Context, cmd ReturnTransitionCommand) (ReturnRequest, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// OrderEventPublisher emits order lifecycle events for downstream consumers.
// Publishing is best effort; implementations must not fail the calling flow.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// ErrorTranslator converts repository or platform errors into domain-aware sentinel errors.
type ErrorTranslator interface {
	Translate(err error) error
}

// Command and DTO definitions ------------------------------------------------

// CheckoutRequirements tells the client what checkout will demand before it
// submits, mirroring the rules PlaceOrder enforces.
type CheckoutRequirements struct {
	ItemCount               int
	RequiresPrescription    bool
	RequiresShippingAddress bool
}

type PlaceOrderCommand struct {
	CustomerID     string
	AddressID      string
	PrescriptionID *string
	PromoCode      string
	ShippingMethod string
}

// CheckoutResult reports the created order and whether a prescription
// snapshot was captured with it.
type CheckoutResult struct {
	Order                Order
	RequiresPrescription bool
}

type CreatePaymentCommand struct {
	OrderID       string
	CustomerID    string
	ActorRole     Role
	PaymentType   string
	PaymentMethod string
	Amount        int64
	Note          string
	ReturnURL     string
	ClientIP      string
}

// PaymentCreation is either a gateway redirect (TransactionID/RedirectURL set)
// or an immediately recorded manual payment.
type PaymentCreation struct {
	Gateway     bool
	RequestID   string
	RedirectURL string
	Transaction *PaymentTransaction
	Payment     *Payment
}

type GatewayCallbackCommand struct {
	Gateway string
	Params  map[string]string
	Body    []byte
	Headers map[string]string
}

// CallbackOutcome reports the reconciliation result for a verified callback.
type CallbackOutcome struct {
	OrderID   string
	RequestID string
	Success   bool
	Replayed  bool
}

// PaymentStatusReport summarises what has been paid against an order.
type PaymentStatusReport struct {
	OrderID           string
	TotalAmount       int64
	TotalPaid         int64
	RemainingBalance  int64
	PaymentState      PaymentState
	LatestTransaction *PaymentTransaction
}

type OrderListQuery struct {
	ActorID    string
	ActorRole  Role
	CustomerID string
	Status     []OrderStatus
	Pagination Pagination
}

type GetOrderQuery struct {
	OrderID   string
	ActorID   string
	ActorRole Role
}

type OrderStatusTransitionCommand struct {
	OrderID   string
	Target    OrderStatus
	ActorID   string
	ActorRole Role
	Reason    string
}

type CreateReturnCommand struct {
	OrderID     string
	CustomerID  string
	Type        domain.ReturnType
	Reason      string
	Description string
	Items       []ReturnItem
}

type GetReturnQuery struct {
	RequestID string
	ActorID   string
	ActorRole Role
}

type ListReturnsQuery struct {
	OrderID   string
	ActorID   string
	ActorRole Role
}

type ReturnTransitionCommand struct {
	RequestID string
	Target    OrderStatus
	ActorID   string
	ActorRole Role
}

type CounterCommand struct {
	CounterID string
	Step      int64
}

// OrderEvent is the envelope published on order lifecycle changes.
type OrderEvent struct {
	Name       string
	OrderID    string
	CustomerID string
	OccurredAt time.Time
	Payload    map[string]any
}

// Order event names published by the services in this package.
const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderExpired       = "order.expired"
)

// OrderListFilter re-exports the repository filter used for order queries.
type OrderListFilter = repositories.OrderListFilter
