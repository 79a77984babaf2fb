package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/repositories"
)

// stubRepoError implements repositories.RepositoryError for fakes.
type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundError(format string, args ...any) error {
	return &stubRepoError{msg: fmt.Sprintf(format, args...), notFound: true}
}

type fakeCatalog struct {
	variants map[string]domain.Variant
	err      error
}

func (f *fakeCatalog) GetVariant(ctx context.Context, variantID string) (domain.Variant, error) {
	if f.err != nil {
		return domain.Variant{}, f.err
	}
	variant, ok := f.variants[variantID]
	if !ok {
		return domain.Variant{}, notFoundError("variant %s not found", variantID)
	}
	return variant, nil
}

func (f *fakeCatalog) GetVariants(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.Variant, len(variantIDs))
	for _, id := range variantIDs {
		if variant, ok := f.variants[id]; ok {
			out[id] = variant
		}
	}
	return out, nil
}

type fakeCarts struct {
	carts map[string]domain.Cart
	err   error
}

func (f *fakeCarts) Get(ctx context.Context, customerID string) (domain.Cart, error) {
	if f.err != nil {
		return domain.Cart{}, f.err
	}
	cart, ok := f.carts[customerID]
	if !ok {
		return domain.Cart{CustomerID: customerID}, nil
	}
	return cart, nil
}

func (f *fakeCarts) Clear(ctx context.Context, customerID string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.carts, customerID)
	return nil
}

type fakeAddresses struct {
	addresses map[string]domain.Address
}

func (f *fakeAddresses) GetActive(ctx context.Context, customerID string, addressID string) (domain.Address, error) {
	addr, ok := f.addresses[addressID]
	if !ok || addr.CustomerID != customerID || addr.Status != domain.StatusActive {
		return domain.Address{}, notFoundError("address %s not found for customer", addressID)
	}
	return addr, nil
}

type fakePrescriptions struct {
	prescriptions map[string]domain.Prescription
}

func (f *fakePrescriptions) GetActive(ctx context.Context, customerID string, prescriptionID string) (domain.Prescription, error) {
	p, ok := f.prescriptions[prescriptionID]
	if !ok || p.CustomerID != customerID || p.Status != domain.StatusActive {
		return domain.Prescription{}, notFoundError("prescription %s not found for customer", prescriptionID)
	}
	return p, nil
}

type fakePromotions struct {
	promotions map[string]domain.Promotion
}

func (f *fakePromotions) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	promo, ok := f.promotions[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return domain.Promotion{}, notFoundError("promotion %s not found", code)
	}
	return promo, nil
}

// fakeOrders mimics the transactional semantics of the Firestore order
// repository against in-memory state: the assembler runs against txVariants
// and promotions, decrements apply on success and the cart is cleared.
type fakeOrders struct {
	mu         sync.Mutex
	txVariants map[string]domain.Variant
	promotions map[string]domain.Promotion
	orders     map[string]domain.Order
	carts      *fakeCarts
	placeErr   error
	lastPlace  repositories.PlaceOrderCommand
}

func (f *fakeOrders) PlaceOrder(ctx context.Context, cmd repositories.PlaceOrderCommand) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastPlace = cmd
	if f.placeErr != nil {
		return domain.Order{}, f.placeErr
	}

	variants := make(map[string]domain.Variant, len(cmd.VariantIDs))
	for _, id := range cmd.VariantIDs {
		variant, ok := f.txVariants[id]
		if !ok {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorVariantNotFound,
				fmt.Sprintf("variant %s no longer exists", id), nil)
		}
		variants[id] = variant
	}

	var promo *domain.Promotion
	if code := strings.ToUpper(strings.TrimSpace(cmd.PromoCode)); code != "" {
		if p, ok := f.promotions[code]; ok {
			resolved := p
			promo = &resolved
		}
	}

	order, plan, err := cmd.Assemble(variants, promo)
	if err != nil {
		return domain.Order{}, err
	}

	for _, allocation := range plan.Lines {
		variant := f.txVariants[allocation.VariantID]
		variant.StockQuantity -= allocation.FromStock
		variant.PreOrderQuantity -= allocation.FromPreOrder
		if variant.StockQuantity < 0 || variant.PreOrderQuantity < 0 {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidState,
				fmt.Sprintf("allocation for variant %s would drive stock negative", allocation.VariantID), nil)
		}
		f.txVariants[allocation.VariantID] = variant
	}

	if order.PromotionID != nil && promo != nil {
		promo.CurrentUsageCount++
		f.promotions[strings.ToUpper(promo.Code)] = *promo
	}

	order.CreatedAt = cmd.Now.UTC()
	order.UpdatedAt = cmd.Now.UTC()
	if f.orders == nil {
		f.orders = make(map[string]domain.Order)
	}
	f.orders[order.ID] = order
	if f.carts != nil {
		delete(f.carts.carts, cmd.CustomerID)
	}
	return order, nil
}

func (f *fakeOrders) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("order %s not found", orderID), nil)
	}
	return order, nil
}

func (f *fakeOrders) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var orders []domain.Order
	for _, order := range f.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if len(filter.Status) > 0 && !containsOrderStatus(filter.Status, order.Status) {
			continue
		}
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return domain.CursorPage[domain.Order]{Items: orders}, nil
}

func (f *fakeOrders) ApplyTransition(ctx context.Context, orderID string, apply func(domain.Order) (domain.Order, error)) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("order %s not found", orderID), nil)
	}
	next, err := apply(order)
	if err != nil {
		return domain.Order{}, err
	}
	f.orders[orderID] = next
	return next, nil
}

func (f *fakeOrders) ExpireStaleOrders(ctx context.Context, cutoff time.Time, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var expired []string
	for id, order := range f.orders {
		if order.Status != domain.OrderStatusAwaitingPayment || order.PaymentState != domain.PaymentStateUnpaid {
			continue
		}
		if order.CreatedAt.After(cutoff) {
			continue
		}
		order.Status = domain.OrderStatusDeleted
		order.UpdatedAt = now.UTC()
		f.orders[id] = order
		expired = append(expired, id)
	}
	sort.Strings(expired)
	return expired, nil
}

func containsOrderStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// fakePayments mirrors the idempotent reconciliation write of the Firestore
// payment repository.
type fakePayments struct {
	mu           sync.Mutex
	transactions map[string]domain.PaymentTransaction
	payments     map[string]domain.Payment
	orders       *fakeOrders
}

func newFakePayments(orders *fakeOrders) *fakePayments {
	return &fakePayments{
		transactions: make(map[string]domain.PaymentTransaction),
		payments:     make(map[string]domain.Payment),
		orders:       orders,
	}
}

func (f *fakePayments) InsertTransaction(ctx context.Context, tx domain.PaymentTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.transactions[tx.RequestID]; exists {
		return repositories.NewPaymentError(repositories.PaymentErrorDuplicateTransaction,
			fmt.Sprintf("transaction %s already exists", tx.RequestID), nil)
	}
	f.transactions[tx.RequestID] = tx
	return nil
}

func (f *fakePayments) GetTransaction(ctx context.Context, requestID string) (domain.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.transactions[requestID]
	if !ok {
		return domain.PaymentTransaction{}, repositories.NewPaymentError(repositories.PaymentErrorTransactionNotFound,
			fmt.Sprintf("transaction %s not found", requestID), nil)
	}
	return tx, nil
}

func (f *fakePayments) LatestTransaction(ctx context.Context, orderID string) (domain.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *domain.PaymentTransaction
	for _, tx := range f.transactions {
		if tx.OrderID != orderID {
			continue
		}
		if latest == nil || tx.CreatedAt.After(latest.CreatedAt) {
			copied := tx
			latest = &copied
		}
	}
	if latest == nil {
		return domain.PaymentTransaction{}, repositories.NewPaymentError(repositories.PaymentErrorTransactionNotFound,
			fmt.Sprintf("no transactions for order %s", orderID), nil)
	}
	return *latest, nil
}

func (f *fakePayments) ApplyGatewayResult(ctx context.Context, cmd repositories.GatewayResultCommand) (repositories.GatewayResultOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, ok := f.transactions[cmd.RequestID]
	if !ok {
		return repositories.GatewayResultOutcome{}, repositories.NewPaymentError(repositories.PaymentErrorTransactionNotFound,
			fmt.Sprintf("transaction %s not found", cmd.RequestID), nil)
	}
	if tx.Status == domain.TransactionStatusSuccess {
		order := f.orders.orders[tx.OrderID]
		return repositories.GatewayResultOutcome{Transaction: tx, Order: order, Replayed: true}, nil
	}
	if tx.Status != domain.TransactionStatusPending {
		return repositories.GatewayResultOutcome{}, repositories.NewPaymentError(repositories.PaymentErrorInvalidState,
			fmt.Sprintf("transaction %s is %s", cmd.RequestID, tx.Status), nil)
	}

	order, ok := f.orders.orders[tx.OrderID]
	if !ok {
		return repositories.GatewayResultOutcome{}, repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("order %s not found", tx.OrderID), nil)
	}

	now := cmd.Now.UTC()
	outcome := repositories.GatewayResultOutcome{}
	if cmd.Success {
		tx.Status = domain.TransactionStatusSuccess
		tx.GatewayTransactionID = cmd.GatewayTransactionID
		tx.RawResponse = cmd.RawResponse
		tx.PaidAt = &now

		if _, exists := f.payments[cmd.Payment.ID]; !exists {
			payment := cmd.Payment
			payment.OrderID = tx.OrderID
			payment.Status = domain.PaymentStatusConfirmed
			payment.CreatedAt = now
			payment.UpdatedAt = now
			f.payments[payment.ID] = payment
			outcome.PaymentCreated = true
		}

		if order.Status == domain.OrderStatusAwaitingPayment && order.PaymentState == domain.PaymentStateUnpaid {
			order.Status = domain.OrderStatusPending
			order.PaymentState = domain.PaymentStatePaid
			order.PaidAt = &now
			order.UpdatedAt = now
			f.orders.orders[tx.OrderID] = order
		}
	} else {
		tx.Status = domain.TransactionStatusFailed
		tx.RawResponse = cmd.RawResponse
	}
	tx.UpdatedAt = now
	f.transactions[cmd.RequestID] = tx

	outcome.Transaction = tx
	outcome.Order = order
	return outcome, nil
}

func (f *fakePayments) InsertPayment(ctx context.Context, payment domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.payments[payment.ID]; exists {
		return repositories.NewPaymentError(repositories.PaymentErrorDuplicateTransaction,
			fmt.Sprintf("payment %s already exists", payment.ID), nil)
	}
	f.payments[payment.ID] = payment
	return nil
}

func (f *fakePayments) ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var payments []domain.Payment
	for _, p := range f.payments {
		if p.OrderID == orderID {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].ID < payments[j].ID })
	return payments, nil
}

type fakeReturns struct {
	mu       sync.Mutex
	requests map[string]domain.ReturnRequest
	orders   *fakeOrders
}

func newFakeReturns(orders *fakeOrders) *fakeReturns {
	return &fakeReturns{requests: make(map[string]domain.ReturnRequest), orders: orders}
}

func (f *fakeReturns) Create(ctx context.Context, request domain.ReturnRequest, guard func(domain.Order) error) (domain.ReturnRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders.orders[request.OrderID]
	if !ok {
		return domain.ReturnRequest{}, repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("order %s not found", request.OrderID), nil)
	}
	if guard != nil {
		if err := guard(order); err != nil {
			return domain.ReturnRequest{}, err
		}
	}
	f.requests[request.ID] = request
	order.Status = domain.OrderStatusReturnRequested
	order.UpdatedAt = request.CreatedAt.UTC()
	f.orders.orders[request.OrderID] = order
	return request, nil
}

func (f *fakeReturns) FindByID(ctx context.Context, requestID string) (domain.ReturnRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[requestID]
	if !ok {
		return domain.ReturnRequest{}, notFoundError("return request %s not found", requestID)
	}
	return request, nil
}

func (f *fakeReturns) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var requests []domain.ReturnRequest
	for _, r := range f.requests {
		if r.OrderID == orderID {
			requests = append(requests, r)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })
	return requests, nil
}

func (f *fakeReturns) ApplyTransition(ctx context.Context, requestID string, apply func(domain.ReturnRequest, domain.Order) (domain.ReturnRequest, domain.Order, error)) (domain.ReturnRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	request, ok := f.requests[requestID]
	if !ok {
		return domain.ReturnRequest{}, repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("return request %s not found", requestID), nil)
	}
	order, ok := f.orders.orders[request.OrderID]
	if !ok {
		return domain.ReturnRequest{}, repositories.NewOrderError(repositories.OrderErrorNotFound,
			fmt.Sprintf("order %s not found", request.OrderID), nil)
	}
	nextRequest, nextOrder, err := apply(request, order)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	f.requests[requestID] = nextRequest
	f.orders.orders[request.OrderID] = nextOrder
	return nextRequest, nil
}

type fakeCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func (f *fakeCounters) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = make(map[string]int64)
	}
	if step <= 0 {
		step = 1
	}
	f.values[counterID] += step
	return f.values[counterID], nil
}

func (f *fakeCounters) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (f *fakeEvents) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.events))
	for i, e := range f.events {
		names[i] = e.Name
	}
	return names
}
