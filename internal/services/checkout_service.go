package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/repositories"
)

const orderIDPrefix = "ord_"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutCartEmpty indicates the cart has no items to order.
	ErrCheckoutCartEmpty = errors.New("checkout: cart is empty")
	// ErrCheckoutAddressNotFound indicates the shipping address does not exist,
	// is inactive or belongs to another customer.
	ErrCheckoutAddressNotFound = errors.New("checkout: address not found")
	// ErrCheckoutPrescriptionRequired indicates the cart pairs a frame with
	// prescription lenses and no prescription was supplied.
	ErrCheckoutPrescriptionRequired = errors.New("checkout: prescription required")
	// ErrCheckoutPrescriptionNotFound indicates the supplied prescription does
	// not exist, is inactive or belongs to another customer.
	ErrCheckoutPrescriptionNotFound = errors.New("checkout: prescription not found")
	// ErrCheckoutVariantUnavailable indicates a cart line references a missing
	// or inactive variant.
	ErrCheckoutVariantUnavailable = errors.New("checkout: variant unavailable")
	// ErrCheckoutInsufficientStock indicates combined stock and pre-order
	// capacity cannot cover a cart line.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutPromotionInvalid indicates the promotion code cannot be applied.
	ErrCheckoutPromotionInvalid = errors.New("checkout: promotion invalid")
	// ErrCheckoutConflict indicates a concurrent modification prevented completing checkout.
	ErrCheckoutConflict = errors.New("checkout: conflict")
)

// CompatibilityError rejects a checkout with the full list of prescription and
// frame/lens fit issues found across the cart.
type CompatibilityError struct {
	Issues []string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("checkout: incompatible items (%d issues)", len(e.Issues))
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Catalog       repositories.CatalogRepository
	Carts         repositories.CartRepository
	Addresses     repositories.AddressRepository
	Prescriptions repositories.PrescriptionRepository
	Orders        repositories.OrderRepository
	Events        OrderEventPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	IDGenerator   func() string
}

type checkoutService struct {
	catalog       repositories.CatalogRepository
	carts         repositories.CartRepository
	addresses     repositories.AddressRepository
	prescriptions repositories.PrescriptionRepository
	orders        repositories.OrderRepository
	events        OrderEventPublisher
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
	idGen         func() string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("checkout service: address repository is required")
	}
	if deps.Prescriptions == nil {
		return nil, errors.New("checkout service: prescription repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return orderIDPrefix + ulid.Make().String() }
	}

	return &checkoutService{
		catalog:       deps.Catalog,
		carts:         deps.Carts,
		addresses:     deps.Addresses,
		prescriptions: deps.Prescriptions,
		orders:        deps.Orders,
		events:        deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		idGen:  idGen,
	}, nil
}

// Requirements reports what PlaceOrder will demand for the customer's current
// cart, using the same frame-plus-rx-lens rule checkout enforces.
func (s *checkoutService) Requirements(ctx context.Context, customerID string) (CheckoutRequirements, error) {
	if s == nil || s.carts == nil {
		return CheckoutRequirements{}, ErrCheckoutUnavailable
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return CheckoutRequirements{}, ErrCheckoutInvalidInput
	}

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return CheckoutRequirements{}, s.translateRepoError(err)
	}
	if len(cart.Items) == 0 {
		return CheckoutRequirements{}, nil
	}

	variants, err := s.resolveVariants(ctx, cart)
	if err != nil {
		return CheckoutRequirements{}, err
	}
	hasFrame, hasRxLens := cartComposition(cart, variants)

	return CheckoutRequirements{
		ItemCount:               len(cart.Items),
		RequiresPrescription:    hasFrame && hasRxLens,
		RequiresShippingAddress: true,
	}, nil
}

// PlaceOrder runs the full checkout: ownership and compatibility validation
// up front, then one atomic transaction that re-reads variants and promotion,
// allocates stock, prices the order, writes it and clears the cart.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (CheckoutResult, error) {
	if s == nil || s.orders == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	customerID := strings.TrimSpace(cmd.CustomerID)
	addressID := strings.TrimSpace(cmd.AddressID)
	if customerID == "" || addressID == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}

	address, err := s.addresses.GetActive(ctx, customerID, addressID)
	if err != nil {
		if isNotFound(err) {
			return CheckoutResult{}, ErrCheckoutAddressNotFound
		}
		return CheckoutResult{}, s.translateRepoError(err)
	}

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}
	if len(cart.Items) == 0 {
		return CheckoutResult{}, ErrCheckoutCartEmpty
	}
	for _, item := range cart.Items {
		if item.Quantity <= 0 || strings.TrimSpace(item.VariantID) == "" {
			return CheckoutResult{}, ErrCheckoutInvalidInput
		}
	}

	// Pre-transaction validation view. The transaction re-reads every variant,
	// so stale reads here can only cause a retry, never an oversell.
	variants, err := s.resolveVariants(ctx, cart)
	if err != nil {
		return CheckoutResult{}, err
	}

	hasFrame, hasRxLens := cartComposition(cart, variants)
	requiresPrescription := hasFrame && hasRxLens

	var snapshot *domain.PrescriptionSnapshot
	if requiresPrescription && (cmd.PrescriptionID == nil || strings.TrimSpace(*cmd.PrescriptionID) == "") {
		return CheckoutResult{}, ErrCheckoutPrescriptionRequired
	}
	if cmd.PrescriptionID != nil && strings.TrimSpace(*cmd.PrescriptionID) != "" {
		prescription, err := s.prescriptions.GetActive(ctx, customerID, *cmd.PrescriptionID)
		if err != nil {
			if isNotFound(err) {
				return CheckoutResult{}, ErrCheckoutPrescriptionNotFound
			}
			return CheckoutResult{}, s.translateRepoError(err)
		}
		captured := domain.SnapshotPrescription(prescription, s.now())
		snapshot = &captured
		if issues := collectCompatibilityIssues(cart, variants, &prescription); len(issues) > 0 {
			return CheckoutResult{}, &CompatibilityError{Issues: issues}
		}
	} else if issues := collectCompatibilityIssues(cart, variants, nil); len(issues) > 0 {
		return CheckoutResult{}, &CompatibilityError{Issues: issues}
	}

	promoCode := strings.ToUpper(strings.TrimSpace(cmd.PromoCode))
	shippingMethod := cmd.ShippingMethod
	orderID := s.idGen()
	now := s.now()
	orderNumber := generateOrderNumber(now)

	variantIDs := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		variantIDs = append(variantIDs, item.VariantID)
	}

	// The assembler runs against variant and promotion state read inside the
	// transaction and must stay pure: it may execute more than once on retry.
	cartItems := append([]domain.CartItem(nil), cart.Items...)
	assemble := func(txVariants map[string]domain.Variant, promo *domain.Promotion) (domain.Order, domain.AllocationPlan, error) {
		lines := make([]domain.AllocationLine, 0, len(cartItems))
		for _, item := range cartItems {
			variant, ok := txVariants[item.VariantID]
			if !ok {
				return domain.Order{}, domain.AllocationPlan{}, domain.ErrVariantUnavailable
			}
			lines = append(lines, domain.AllocationLine{Variant: variant, Quantity: item.Quantity})
		}

		plan, err := domain.PlanAllocation(lines)
		if err != nil {
			return domain.Order{}, domain.AllocationPlan{}, err
		}

		if promoCode != "" {
			if promo == nil || !domain.PromotionEligible(*promo, subtotalOf(cartItems, txVariants), now) {
				return domain.Order{}, domain.AllocationPlan{}, domain.ErrPromotionNotEligible
			}
		}

		priceLines := make([]domain.PriceLine, 0, len(cartItems))
		items := make([]domain.OrderItem, 0, len(cartItems))
		for _, item := range cartItems {
			variant := txVariants[item.VariantID]
			priceLines = append(priceLines, domain.PriceLine{
				VariantID: variant.ID,
				UnitPrice: variant.Price,
				Quantity:  item.Quantity,
			})
			items = append(items, domain.OrderItem{
				VariantID:   variant.ID,
				ProductID:   variant.ProductID,
				ProductName: variant.ProductName,
				ProductType: variant.ProductType,
				SKU:         variant.SKU,
				UnitPrice:   variant.Price,
				Quantity:    item.Quantity,
				Subtotal:    variant.Price * int64(item.Quantity),
			})
		}
		quote := domain.PriceCheckout(priceLines, promo, shippingMethod, now)

		order := domain.Order{
			ID:             orderID,
			OrderNumber:    orderNumber,
			CustomerID:     customerID,
			Type:           domain.DeriveOrderType(plan, hasFrame, hasRxLens, snapshot != nil),
			Status:         domain.OrderStatusAwaitingPayment,
			PaymentState:   domain.PaymentStateUnpaid,
			Currency:       "VND",
			Subtotal:       quote.Subtotal,
			ShippingFee:    quote.ShippingFee,
			DiscountAmount: quote.Discount,
			TotalAmount:    quote.Total,
			PromotionID:    quote.PromotionID,
			PromoCode:      promoCode,
			Items:          items,
			Shipping:       shippingFromAddress(address, quote.ShippingMethod),
			Prescription:   snapshot,
		}
		return order, plan, nil
	}

	placed, err := s.orders.PlaceOrder(ctx, repositories.PlaceOrderCommand{
		CustomerID: customerID,
		VariantIDs: variantIDs,
		PromoCode:  promoCode,
		Assemble:   assemble,
		Now:        now,
	})
	if err != nil {
		return CheckoutResult{}, s.translateCheckoutError(ctx, err)
	}

	s.publishEvent(ctx, OrderEvent{
		Name:       EventOrderCreated,
		OrderID:    placed.ID,
		CustomerID: placed.CustomerID,
		OccurredAt: now,
		Payload: map[string]any{
			"orderNumber": placed.OrderNumber,
			"orderType":   string(placed.Type),
			"totalAmount": placed.TotalAmount,
		},
	})

	return CheckoutResult{Order: placed, RequiresPrescription: requiresPrescription}, nil
}

func (s *checkoutService) resolveVariants(ctx context.Context, cart domain.Cart) (map[string]domain.Variant, error) {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.VariantID)
	}
	variants, err := s.catalog.GetVariants(ctx, ids)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	for _, item := range cart.Items {
		variant, ok := variants[item.VariantID]
		if !ok || !variant.Active() {
			return nil, ErrCheckoutVariantUnavailable
		}
	}
	return variants, nil
}

func (s *checkoutService) translateCheckoutError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrVariantUnavailable):
		return ErrCheckoutVariantUnavailable
	case errors.Is(err, domain.ErrInsufficientQuantity):
		return ErrCheckoutInsufficientStock
	case errors.Is(err, domain.ErrInvalidQuantity):
		return ErrCheckoutInvalidInput
	case errors.Is(err, domain.ErrPromotionNotEligible):
		return ErrCheckoutPromotionInvalid
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorVariantNotFound:
			return ErrCheckoutVariantUnavailable
		case repositories.OrderErrorCartEmpty:
			return ErrCheckoutCartEmpty
		case repositories.OrderErrorInvalidState:
			return ErrCheckoutInsufficientStock
		}
	}

	s.logger(ctx, "checkout.place_failed", map[string]any{"error": err.Error()})
	return s.translateRepoError(err)
}

func (s *checkoutService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return ErrCheckoutConflict
		default:
			return ErrCheckoutUnavailable
		}
	}
	return ErrCheckoutUnavailable
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"event":   event.Name,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// cartComposition reports whether the cart contains at least one frame and at
// least one prescription lens line.
func cartComposition(cart domain.Cart, variants map[string]domain.Variant) (hasFrame bool, hasRxLens bool) {
	for _, item := range cart.Items {
		switch variants[item.VariantID].ProductType {
		case domain.ProductTypeFrame:
			hasFrame = true
		case domain.ProductTypeRxLens:
			hasRxLens = true
		}
	}
	return hasFrame, hasRxLens
}

// collectCompatibilityIssues aggregates every prescription and frame/lens fit
// issue across the cart so the customer sees the full list in one response.
func collectCompatibilityIssues(cart domain.Cart, variants map[string]domain.Variant, prescription *domain.Prescription) []string {
	var issues []string
	var frames []domain.FrameSpec
	var lenses []domain.RxLensSpec

	for _, item := range cart.Items {
		variant := variants[item.VariantID]
		if variant.Frame != nil {
			frames = append(frames, *variant.Frame)
		}
		if variant.RxLens != nil {
			lenses = append(lenses, *variant.RxLens)
		}
	}

	if prescription != nil {
		for _, lens := range lenses {
			issues = append(issues, domain.CheckPrescriptionAgainstLens(*prescription, lens)...)
		}
	}
	for _, frame := range frames {
		for _, lens := range lenses {
			issues = append(issues, domain.CheckFrameLensFit(frame, lens)...)
		}
	}
	return issues
}

func subtotalOf(items []domain.CartItem, variants map[string]domain.Variant) int64 {
	var subtotal int64
	for _, item := range items {
		subtotal += variants[item.VariantID].Price * int64(item.Quantity)
	}
	return subtotal
}

func shippingFromAddress(address domain.Address, method string) domain.ShippingInfo {
	return domain.ShippingInfo{
		RecipientName:  address.RecipientName,
		PhoneNumber:    address.PhoneNumber,
		AddressLine:    address.AddressLine,
		City:           address.City,
		District:       address.District,
		Ward:           address.Ward,
		Note:           address.Note,
		ShippingMethod: method,
	}
}

// generateOrderNumber renders OD + yyMMddHHmmss + milliseconds, at most 23
// characters.
func generateOrderNumber(now time.Time) string {
	return "OD" + now.Format("060102150405") + fmt.Sprintf("%03d", now.Nanosecond()/1e6)
}
