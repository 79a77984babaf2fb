package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductType distinguishes the optical product families carried by the shop.
type ProductType string

const (
	// ProductTypeFrame is a spectacle frame sold without lenses.
	ProductTypeFrame ProductType = "FRAME"
	// ProductTypeSunglasses is a non-prescription sunglasses product.
	ProductTypeSunglasses ProductType = "SUNGLASSES"
	// ProductTypeRxLens is a prescription-ground lens blank.
	ProductTypeRxLens ProductType = "RX_LENS"
	// ProductTypeContactLens is a contact lens product.
	ProductTypeContactLens ProductType = "CONTACT_LENS"
	// ProductTypeAccessory covers cases, cloths and other non-optical items.
	ProductTypeAccessory ProductType = "ACCESSORY"
)

// FrameSpec stores the physical measurements of a spectacle frame.
// Measurement fields use millimetres; absent values mean "not declared".
type FrameSpec struct {
	EyeSize      *float64 // the "A" measurement
	BridgeWidth  *float64
	TempleLength *float64
	LensHeight   *float64 // the "B" measurement
	RimType      string
	Material     string
	Shape        string
}

// SunglassesSpec stores sunglasses-specific attributes.
type SunglassesSpec struct {
	LensCategory  string
	UVProtection  string
	Polarized     bool
	LensBaseCurve *float64
}

// RxLensSpec declares the prescription ranges a lens blank can be ground to.
type RxLensSpec struct {
	LensWidth       *float64
	Material        string
	RefractiveIndex *float64
	SphereMin       *float64
	SphereMax       *float64
	CylinderMin     *float64
	CylinderMax     *float64
	AxisMin         *float64
	AxisMax         *float64
	AddMin          *float64
	AddMax          *float64
	Coatings        []string
}

// ContactLensSpec stores contact lens attributes.
type ContactLensSpec struct {
	BaseCurve       *float64
	Diameter        *float64
	WaterContent    *float64
	ReplacementDays int
}

// Variant is a purchasable SKU-level instance of a product, carrying the
// owning product's type and at most one type-specific spec.
type Variant struct {
	ID               string
	ProductID        string
	ProductName      string
	ProductType      ProductType
	ProductStatus    int
	SKU              string
	Price            int64
	Currency         string
	StockQuantity    int
	PreOrderQuantity int
	Status           int

	Frame       *FrameSpec
	Sunglasses  *SunglassesSpec
	RxLens      *RxLensSpec
	ContactLens *ContactLensSpec

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether both the variant and its owning product are sellable.
func (v Variant) Active() bool {
	return v.Status == StatusActive && v.ProductStatus == StatusActive
}

// SpecCount returns how many type-specific specs are attached. A well-formed
// variant has at most one, matching its product type.
func (v Variant) SpecCount() int {
	count := 0
	if v.Frame != nil {
		count++
	}
	if v.Sunglasses != nil {
		count++
	}
	if v.RxLens != nil {
		count++
	}
	if v.ContactLens != nil {
		count++
	}
	return count
}

// StatusActive marks active catalog records; anything else is unsellable.
const StatusActive = 1

// CartItem is one requested line from the customer's session cart.
type CartItem struct {
	VariantID string
	Quantity  int
}

// Cart aggregates the session-held shopping cart for a customer.
type Cart struct {
	CustomerID string
	Items      []CartItem
	UpdatedAt  time.Time
}

// EyePrescription holds the measured values for a single eye. Nil fields mean
// the value was not measured.
type EyePrescription struct {
	Sphere   *float64
	Cylinder *float64
	Axis     *float64
	Add      *float64
}

// Prescription is a customer-owned, independently editable record.
type Prescription struct {
	ID                string
	CustomerID        string
	Right             EyePrescription
	Left              EyePrescription
	PupillaryDistance *float64
	Notes             string
	Prescriber        string
	IssuedAt          *time.Time
	Status            int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PrescriptionSnapshot is an immutable field-by-field copy of a Prescription
// taken at checkout. SourcePrescriptionID is advisory only; later edits or
// deletions of the source never touch the snapshot.
type PrescriptionSnapshot struct {
	SourcePrescriptionID string
	Right                EyePrescription
	Left                 EyePrescription
	PupillaryDistance    *float64
	Notes                string
	Prescriber           string
	IssuedAt             *time.Time
	CapturedAt           time.Time
}

// SnapshotPrescription copies the prescription values into an immutable
// snapshot captured at the given instant.
func SnapshotPrescription(p Prescription, capturedAt time.Time) PrescriptionSnapshot {
	return PrescriptionSnapshot{
		SourcePrescriptionID: p.ID,
		Right:                copyEye(p.Right),
		Left:                 copyEye(p.Left),
		PupillaryDistance:    copyFloat(p.PupillaryDistance),
		Notes:                p.Notes,
		Prescriber:           p.Prescriber,
		IssuedAt:             copyTime(p.IssuedAt),
		CapturedAt:           capturedAt,
	}
}

func copyEye(e EyePrescription) EyePrescription {
	return EyePrescription{
		Sphere:   copyFloat(e.Sphere),
		Cylinder: copyFloat(e.Cylinder),
		Axis:     copyFloat(e.Axis),
		Add:      copyFloat(e.Add),
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Address is a customer shipping destination.
type Address struct {
	ID            string
	CustomerID    string
	RecipientName string
	PhoneNumber   string
	AddressLine   string
	City          string
	District      string
	Ward          string
	Note          string
	Status        int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ShippingInfo is the one-to-one delivery record copied from the address
// resolved at checkout. Carrier and tracking fields are populated later by
// fulfillment.
type ShippingInfo struct {
	RecipientName  string
	PhoneNumber    string
	AddressLine    string
	City           string
	District       string
	Ward           string
	Note           string
	ShippingMethod string
	Carrier        string
	TrackingCode   string
}

// OrderType classifies how an order's lines were sourced. Derived at
// checkout, never chosen by the client.
type OrderType string

const (
	// OrderTypeAvailable means every line shipped from on-hand stock.
	OrderTypeAvailable OrderType = "AVAILABLE"
	// OrderTypePreOrder means at least one line drew from pre-order stock.
	OrderTypePreOrder OrderType = "PRE_ORDER"
	// OrderTypePrescription means the order pairs a frame with prescription lenses.
	OrderTypePrescription OrderType = "PRESCRIPTION"
)

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusAwaitingPayment indicates the order was created and no payment has settled.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusPending indicates payment settled and the order awaits validation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusValidated indicates sales staff verified the order contents.
	OrderStatusValidated OrderStatus = "validated"
	// OrderStatusConfirmed indicates the order is accepted for processing.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates lenses are being ground or items picked.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates staff cancelled the order before shipment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusCompleted indicates the order is closed.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusDeleted indicates the expiry sweeper removed an unpaid order.
	OrderStatusDeleted OrderStatus = "deleted"

	// OrderStatusReturnRequested indicates the customer filed a return request.
	OrderStatusReturnRequested OrderStatus = "return_requested"
	// OrderStatusReturnApproved indicates sales staff approved the return.
	OrderStatusReturnApproved OrderStatus = "return_approved"
	// OrderStatusReturnRejected indicates sales staff rejected the return.
	OrderStatusReturnRejected OrderStatus = "return_rejected"
	// OrderStatusReturnProcessing indicates operations staff are handling the return.
	OrderStatusReturnProcessing OrderStatus = "return_processing"
	// OrderStatusReturnCompleted indicates the return was settled.
	OrderStatusReturnCompleted OrderStatus = "return_completed"
)

// PaymentState tracks whether an order has been paid.
type PaymentState string

const (
	// PaymentStateUnpaid indicates no successful payment has been applied.
	PaymentStateUnpaid PaymentState = "unpaid"
	// PaymentStatePaid indicates a successful payment has been applied.
	PaymentStatePaid PaymentState = "paid"
)

// OrderItem freezes one cart line at order time. UnitPrice never tracks
// later variant price changes.
type OrderItem struct {
	VariantID   string
	ProductID   string
	ProductName string
	ProductType ProductType
	SKU         string
	UnitPrice   int64
	Quantity    int
	Subtotal    int64
}

// Order is the durable result of a checkout.
// Invariant: TotalAmount = Subtotal + ShippingFee - DiscountAmount.
type Order struct {
	ID             string
	OrderNumber    string
	CustomerID     string
	Type           OrderType
	Status         OrderStatus
	PaymentState   PaymentState
	Currency       string
	Subtotal       int64
	ShippingFee    int64
	DiscountAmount int64
	TotalAmount    int64
	PromotionID    *string
	PromoCode      string

	Items        []OrderItem
	Shipping     ShippingInfo
	Prescription *PrescriptionSnapshot

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// Promotion describes a discount code with usage caps.
// CurrentUsageCount only moves inside the transaction that consumed it.
type Promotion struct {
	ID                string
	Code              string
	Name              string
	Status            int
	DiscountPercent   *int64
	DiscountAmount    *int64
	MinPurchaseAmount int64
	StartsAt          time.Time
	EndsAt            time.Time
	TotalUsageLimit   *int
	PerCustomerLimit  *int
	CurrentUsageCount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TransactionStatus tracks the gateway-side lifecycle of a payment attempt.
type TransactionStatus string

const (
	// TransactionStatusPending indicates the customer was redirected and no callback has settled.
	TransactionStatusPending TransactionStatus = "pending"
	// TransactionStatusSuccess indicates the gateway confirmed the payment.
	TransactionStatusSuccess TransactionStatus = "success"
	// TransactionStatusFailed indicates the gateway reported a failure.
	TransactionStatusFailed TransactionStatus = "failed"
)

// PaymentTransaction tracks one gateway payment attempt. RequestID is the
// sole correlation key for inbound callbacks and is globally unique.
type PaymentTransaction struct {
	RequestID            string
	OrderID              string
	Gateway              string
	GatewayTransactionID *string
	Amount               int64
	Currency             string
	Status               TransactionStatus
	RawRequest           map[string]any
	RawResponse          map[string]any
	CreatedAt            time.Time
	UpdatedAt            time.Time
	PaidAt               *time.Time
}

// PaymentStatus marks whether a Payment has been confirmed.
type PaymentStatus string

const (
	// PaymentStatusPending indicates a recorded but unconfirmed payment.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusConfirmed indicates money was received.
	PaymentStatusConfirmed PaymentStatus = "confirmed"
)

// Payment is a materialized monetary application against an order.
type Payment struct {
	ID        string
	OrderID   string
	Type      string
	Method    string
	Amount    int64
	Currency  string
	Status    PaymentStatus
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReturnType enumerates the supported post-delivery request kinds.
type ReturnType string

const (
	// ReturnTypeExchange requests a swap for another item.
	ReturnTypeExchange ReturnType = "EXCHANGE"
	// ReturnTypeReturn requests a refund against returned goods.
	ReturnTypeReturn ReturnType = "RETURN"
	// ReturnTypeWarranty requests repair or replacement under warranty.
	ReturnTypeWarranty ReturnType = "WARRANTY"
)

// ReturnItem references an original order line with the quantity being
// returned, never exceeding the original line quantity.
type ReturnItem struct {
	VariantID string
	Quantity  int
}

// ReturnRequest tracks one post-delivery return/exchange/warranty case.
type ReturnRequest struct {
	ID              string
	RequestNumber   string
	OrderID         string
	CustomerID      string
	Type            ReturnType
	Status          OrderStatus
	Reason          string
	Description     string
	ExchangeOrderID *string
	Items           []ReturnItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
