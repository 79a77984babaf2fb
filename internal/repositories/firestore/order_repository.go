package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/eyeline-optics/api/internal/domain"
	pfirestore "github.com/eyeline-optics/api/internal/platform/firestore"
	"github.com/eyeline-optics/api/internal/repositories"
)

const (
	ordersCollection = "orders"
	cartsCollection  = "carts"
)

// OrderRepository persists orders and owns the checkout and lifecycle
// transaction boundaries.
type OrderRepository struct {
	provider   *pfirestore.Provider
	orders     *pfirestore.BaseRepository[orderDocument]
	variants   *pfirestore.BaseRepository[variantDocument]
	promotions *pfirestore.BaseRepository[promotionDocument]
	carts      *pfirestore.BaseRepository[cartDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider:   provider,
		orders:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		variants:   pfirestore.NewBaseRepository[variantDocument](provider, variantsCollection, nil, nil),
		promotions: pfirestore.NewBaseRepository[promotionDocument](provider, promotionsCollection, nil, nil),
		carts:      pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil),
	}, nil
}

// PlaceOrder commits one checkout atomically: it re-reads the variants and
// promotion inside the transaction, runs the assembler against that state,
// writes the order, applies the stock decrements, bumps the promotion usage
// counter and clears the cart. Any failure leaves no partial state.
func (r *OrderRepository) PlaceOrder(ctx context.Context, cmd repositories.PlaceOrderCommand) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if cmd.Assemble == nil {
		return domain.Order{}, errors.New("order place: assembler is required")
	}
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return domain.Order{}, errors.New("order place: customer id is required")
	}
	if len(cmd.VariantIDs) == 0 {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorCartEmpty, "order place: no variants requested", nil)
	}

	// The promotion document id is resolved by code before the transaction;
	// its state is re-read transactionally below.
	promoID := ""
	if code := strings.ToUpper(strings.TrimSpace(cmd.PromoCode)); code != "" {
		docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("code", "==", code).Limit(1)
		})
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.place", err)
		}
		if len(docs) > 0 {
			promoID = docs[0].ID
		}
	}

	now := cmd.Now.UTC()
	var placed domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		variants := make(map[string]domain.Variant, len(cmd.VariantIDs))
		variantRefs := make(map[string]*firestore.DocumentRef, len(cmd.VariantIDs))
		variantDocs := make(map[string]variantDocument, len(cmd.VariantIDs))

		for _, id := range cmd.VariantIDs {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, seen := variants[id]; seen {
				continue
			}
			ref, err := r.variants.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewOrderError(repositories.OrderErrorVariantNotFound,
						fmt.Sprintf("variant %s no longer exists", id), err)
				}
				return err
			}
			var doc variantDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode variant %s: %w", id, err)
			}
			variants[id] = doc.toDomain(id)
			variantRefs[id] = ref
			variantDocs[id] = doc
		}

		var promo *domain.Promotion
		var promoRef *firestore.DocumentRef
		var promoDoc promotionDocument
		if promoID != "" {
			ref, err := r.promotions.DocumentRef(ctx, promoID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
			} else {
				if err := snap.DataTo(&promoDoc); err != nil {
					return fmt.Errorf("decode promotion %s: %w", promoID, err)
				}
				resolved := promoDoc.toDomain(promoID)
				promo = &resolved
				promoRef = ref
			}
		}

		cartRef, err := r.carts.DocumentRef(ctx, cmd.CustomerID)
		if err != nil {
			return err
		}
		// Read so the cart document participates in the transaction's
		// conflict detection before it is deleted.
		if _, err := tx.Get(cartRef); err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		order, plan, err := cmd.Assemble(variants, promo)
		if err != nil {
			return err
		}
		if strings.TrimSpace(order.ID) == "" {
			return errors.New("order place: assembler returned no order id")
		}

		for _, allocation := range plan.Lines {
			doc, ok := variantDocs[allocation.VariantID]
			if !ok {
				return repositories.NewOrderError(repositories.OrderErrorVariantNotFound,
					fmt.Sprintf("allocation references unknown variant %s", allocation.VariantID), nil)
			}
			doc.StockQuantity -= allocation.FromStock
			doc.PreOrderQuantity -= allocation.FromPreOrder
			if doc.StockQuantity < 0 || doc.PreOrderQuantity < 0 {
				return repositories.NewOrderError(repositories.OrderErrorInvalidState,
					fmt.Sprintf("allocation for variant %s would drive stock negative", allocation.VariantID), nil)
			}
			doc.UpdatedAt = now
			if err := tx.Set(variantRefs[allocation.VariantID], doc); err != nil {
				return err
			}
		}

		if order.PromotionID != nil && promoRef != nil {
			promoDoc.CurrentUsageCount++
			promoDoc.UpdatedAt = now
			if err := tx.Set(promoRef, promoDoc); err != nil {
				return err
			}
		}

		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		order.CreatedAt = now
		order.UpdatedAt = now
		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			return err
		}

		if err := tx.Delete(cartRef); err != nil {
			return err
		}

		placed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.place", err)
	}
	return placed, nil
}

// FindByID fetches an order by id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound,
				fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrderError("orders.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders newest first, optionally filtered by customer and status.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		query = query.Where("customerId", "==", customerID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// ApplyTransition re-reads the order inside a transaction, applies the
// mutation and writes the result.
func (r *OrderRepository) ApplyTransition(ctx context.Context, orderID string, apply func(domain.Order) (domain.Order, error)) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order transition: id is required")
	}
	if apply == nil {
		return domain.Order{}, errors.New("order transition: mutation is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound,
					fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		next, err := apply(doc.toDomain(orderID))
		if err != nil {
			return err
		}
		if err := tx.Set(ref, newOrderDocument(next)); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.transition", err)
	}
	return updated, nil
}

// ExpireStaleOrders deletes unpaid awaiting-payment orders created before the
// cutoff. The predicate is re-checked inside each per-order transaction so an
// order paid between the query and the write survives.
func (r *OrderRepository) ExpireStaleOrders(ctx context.Context, cutoff time.Time, now time.Time) ([]string, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapOrderError("orders.expire", err)
	}

	query := client.Collection(ordersCollection).Query.
		Where("status", "==", string(domain.OrderStatusAwaitingPayment)).
		Where("paymentState", "==", string(domain.PaymentStateUnpaid)).
		Where("createdAt", "<=", cutoff.UTC())

	iter := query.Documents(ctx)
	defer iter.Stop()

	var candidates []string
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapOrderError("orders.expire", err)
		}
		candidates = append(candidates, snap.Ref.ID)
	}

	nowUTC := now.UTC()
	var expired []string
	for _, orderID := range candidates {
		id := orderID
		// The closure may run more than once on contention, so the outcome is
		// recorded in a per-attempt flag and collected only after commit.
		applied := false
		err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			applied = false
			ref, err := r.orders.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			}
			var doc orderDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode order %s: %w", id, err)
			}
			if doc.Status != string(domain.OrderStatusAwaitingPayment) || doc.PaymentState != string(domain.PaymentStateUnpaid) {
				return nil
			}
			doc.Status = string(domain.OrderStatusDeleted)
			doc.UpdatedAt = nowUTC
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			return expired, wrapOrderError("orders.expire", err)
		}
		if applied {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// Document structures -------------------------------------------------------

type orderDocument struct {
	OrderNumber    string  `firestore:"orderNumber"`
	CustomerID     string  `firestore:"customerId"`
	Type           string  `firestore:"type"`
	Status         string  `firestore:"status"`
	PaymentState   string  `firestore:"paymentState"`
	Currency       string  `firestore:"currency"`
	Subtotal       int64   `firestore:"subtotal"`
	ShippingFee    int64   `firestore:"shippingFee"`
	DiscountAmount int64   `firestore:"discountAmount"`
	TotalAmount    int64   `firestore:"totalAmount"`
	PromotionID    *string `firestore:"promotionId,omitempty"`
	PromoCode      string  `firestore:"promoCode,omitempty"`

	Items        []orderItemDocument           `firestore:"items"`
	Shipping     shippingInfoDocument          `firestore:"shipping"`
	Prescription *prescriptionSnapshotDocument `firestore:"prescription,omitempty"`

	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
	PaidAt      *time.Time `firestore:"paidAt,omitempty"`
	ShippedAt   *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`
	CompletedAt *time.Time `firestore:"completedAt,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	VariantID   string `firestore:"variantId"`
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName,omitempty"`
	ProductType string `firestore:"productType"`
	SKU         string `firestore:"sku,omitempty"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	Subtotal    int64  `firestore:"subtotal"`
}

type shippingInfoDocument struct {
	RecipientName  string `firestore:"recipientName"`
	PhoneNumber    string `firestore:"phoneNumber"`
	AddressLine    string `firestore:"addressLine"`
	City           string `firestore:"city,omitempty"`
	District       string `firestore:"district,omitempty"`
	Ward           string `firestore:"ward,omitempty"`
	Note           string `firestore:"note,omitempty"`
	ShippingMethod string `firestore:"shippingMethod"`
	Carrier        string `firestore:"carrier,omitempty"`
	TrackingCode   string `firestore:"trackingCode,omitempty"`
}

type eyePrescriptionDocument struct {
	Sphere   *float64 `firestore:"sphere,omitempty"`
	Cylinder *float64 `firestore:"cylinder,omitempty"`
	Axis     *float64 `firestore:"axis,omitempty"`
	Add      *float64 `firestore:"add,omitempty"`
}

type prescriptionSnapshotDocument struct {
	SourcePrescriptionID string                  `firestore:"sourcePrescriptionId,omitempty"`
	Right                eyePrescriptionDocument `firestore:"right"`
	Left                 eyePrescriptionDocument `firestore:"left"`
	PupillaryDistance    *float64                `firestore:"pupillaryDistance,omitempty"`
	Notes                string                  `firestore:"notes,omitempty"`
	Prescriber           string                  `firestore:"prescriber,omitempty"`
	IssuedAt             *time.Time              `firestore:"issuedAt,omitempty"`
	CapturedAt           time.Time               `firestore:"capturedAt"`
}

type cartDocument struct {
	CustomerID string             `firestore:"customerId"`
	Items      []cartItemDocument `firestore:"items"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	VariantID string `firestore:"variantId"`
	Quantity  int    `firestore:"quantity"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			VariantID:   item.VariantID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductType: string(item.ProductType),
			SKU:         item.SKU,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
		}
	}

	doc := orderDocument{
		OrderNumber:    order.OrderNumber,
		CustomerID:     order.CustomerID,
		Type:           string(order.Type),
		Status:         string(order.Status),
		PaymentState:   string(order.PaymentState),
		Currency:       order.Currency,
		Subtotal:       order.Subtotal,
		ShippingFee:    order.ShippingFee,
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		PromotionID:    order.PromotionID,
		PromoCode:      order.PromoCode,
		Items:          items,
		Shipping: shippingInfoDocument{
			RecipientName:  order.Shipping.RecipientName,
			PhoneNumber:    order.Shipping.PhoneNumber,
			AddressLine:    order.Shipping.AddressLine,
			City:           order.Shipping.City,
			District:       order.Shipping.District,
			Ward:           order.Shipping.Ward,
			Note:           order.Shipping.Note,
			ShippingMethod: order.Shipping.ShippingMethod,
			Carrier:        order.Shipping.Carrier,
			TrackingCode:   order.Shipping.TrackingCode,
		},
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		PaidAt:      order.PaidAt,
		ShippedAt:   order.ShippedAt,
		DeliveredAt: order.DeliveredAt,
		CompletedAt: order.CompletedAt,
		CancelledAt: order.CancelledAt,
	}

	if order.Prescription != nil {
		doc.Prescription = &prescriptionSnapshotDocument{
			SourcePrescriptionID: order.Prescription.SourcePrescriptionID,
			Right:                newEyeDocument(order.Prescription.Right),
			Left:                 newEyeDocument(order.Prescription.Left),
			PupillaryDistance:    order.Prescription.PupillaryDistance,
			Notes:                order.Prescription.Notes,
			Prescriber:           order.Prescription.Prescriber,
			IssuedAt:             order.Prescription.IssuedAt,
			CapturedAt:           order.Prescription.CapturedAt.UTC(),
		}
	}
	return doc
}

func newEyeDocument(e domain.EyePrescription) eyePrescriptionDocument {
	return eyePrescriptionDocument{Sphere: e.Sphere, Cylinder: e.Cylinder, Axis: e.Axis, Add: e.Add}
}

func (d eyePrescriptionDocument) toDomain() domain.EyePrescription {
	return domain.EyePrescription{Sphere: d.Sphere, Cylinder: d.Cylinder, Axis: d.Axis, Add: d.Add}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			VariantID:   item.VariantID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductType: domain.ProductType(item.ProductType),
			SKU:         item.SKU,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
		}
	}

	order := domain.Order{
		ID:             id,
		OrderNumber:    d.OrderNumber,
		CustomerID:     d.CustomerID,
		Type:           domain.OrderType(d.Type),
		Status:         domain.OrderStatus(d.Status),
		PaymentState:   domain.PaymentState(d.PaymentState),
		Currency:       d.Currency,
		Subtotal:       d.Subtotal,
		ShippingFee:    d.ShippingFee,
		DiscountAmount: d.DiscountAmount,
		TotalAmount:    d.TotalAmount,
		PromotionID:    d.PromotionID,
		PromoCode:      d.PromoCode,
		Items:          items,
		Shipping: domain.ShippingInfo{
			RecipientName:  d.Shipping.RecipientName,
			PhoneNumber:    d.Shipping.PhoneNumber,
			AddressLine:    d.Shipping.AddressLine,
			City:           d.Shipping.City,
			District:       d.Shipping.District,
			Ward:           d.Shipping.Ward,
			Note:           d.Shipping.Note,
			ShippingMethod: d.Shipping.ShippingMethod,
			Carrier:        d.Shipping.Carrier,
			TrackingCode:   d.Shipping.TrackingCode,
		},
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		PaidAt:      d.PaidAt,
		ShippedAt:   d.ShippedAt,
		DeliveredAt: d.DeliveredAt,
		CompletedAt: d.CompletedAt,
		CancelledAt: d.CancelledAt,
	}

	if d.Prescription != nil {
		order.Prescription = &domain.PrescriptionSnapshot{
			SourcePrescriptionID: d.Prescription.SourcePrescriptionID,
			Right:                d.Prescription.Right.toDomain(),
			Left:                 d.Prescription.Left.toDomain(),
			PupillaryDistance:    d.Prescription.PupillaryDistance,
			Notes:                d.Prescription.Notes,
			Prescriber:           d.Prescription.Prescriber,
			IssuedAt:             d.Prescription.IssuedAt,
			CapturedAt:           d.Prescription.CapturedAt,
		}
	}
	return order
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var allocErr error
	for _, sentinel := range []error{domain.ErrVariantUnavailable, domain.ErrInsufficientQuantity, domain.ErrInvalidQuantity, domain.ErrPromotionNotEligible} {
		if errors.Is(err, sentinel) {
			allocErr = err
			break
		}
	}
	if allocErr != nil {
		return allocErr
	}
	return pfirestore.WrapError(op, err)
}
