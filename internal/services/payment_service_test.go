package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/payments"
)

type fakeGateway struct {
	lastCreateCtx payments.PaymentContext
	lastCreate    payments.CreatePaymentRequest
	lastVerify    payments.Callback
	intent        payments.PaymentIntent
	result        payments.CallbackResult
	createErr     error
	verifyErr     error
}

func (f *fakeGateway) CreatePayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreatePaymentRequest) (payments.PaymentIntent, error) {
	f.lastCreateCtx = paymentCtx
	f.lastCreate = req
	if f.createErr != nil {
		return payments.PaymentIntent{}, f.createErr
	}
	intent := f.intent
	intent.RequestID = req.RequestID
	return intent, nil
}

func (f *fakeGateway) VerifyCallback(ctx context.Context, paymentCtx payments.PaymentContext, cb payments.Callback) (payments.CallbackResult, error) {
	f.lastVerify = cb
	if f.verifyErr != nil {
		return payments.CallbackResult{}, f.verifyErr
	}
	return f.result, nil
}

type paymentFixture struct {
	service  PaymentService
	orders   *fakeOrders
	payments *fakePayments
	gateway  *fakeGateway
	events   *fakeEvents
	now      time.Time
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	now := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	orders := &fakeOrders{
		orders: map[string]domain.Order{
			"ord_1": {
				ID:           "ord_1",
				OrderNumber:  "OD240501105900123",
				CustomerID:   "cus_1",
				Status:       domain.OrderStatusAwaitingPayment,
				PaymentState: domain.PaymentStateUnpaid,
				Currency:     "VND",
				TotalAmount:  550000,
				CreatedAt:    now.Add(-time.Minute),
			},
		},
	}
	repo := newFakePayments(orders)
	gateway := &fakeGateway{intent: payments.PaymentIntent{PayURL: "https://gateway.example/pay"}}
	events := &fakeEvents{}

	service, err := NewPaymentService(PaymentServiceDeps{
		Orders:   orders,
		Payments: repo,
		Gateways: gateway,
		Events:   events,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return &paymentFixture{service: service, orders: orders, payments: repo, gateway: gateway, events: events, now: now}
}

func TestCreateGatewayPayment(t *testing.T) {
	fx := newPaymentFixture(t)

	creation, err := fx.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:       "ord_1",
		CustomerID:    "cus_1",
		PaymentType:   PaymentTypeEWallet,
		PaymentMethod: "momo",
		Amount:        550000,
		ClientIP:      "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	if !creation.Gateway || creation.RedirectURL != "https://gateway.example/pay" {
		t.Fatalf("unexpected creation %+v", creation)
	}
	if !strings.HasPrefix(creation.RequestID, "OD240501105900123-") {
		t.Fatalf("request id %q must embed the order number", creation.RequestID)
	}
	if len(creation.RequestID) > 32 {
		t.Fatalf("request id %q exceeds 32 characters", creation.RequestID)
	}
	if fx.gateway.lastCreateCtx.PreferredProvider != "momo" {
		t.Fatalf("provider = %q, want momo", fx.gateway.lastCreateCtx.PreferredProvider)
	}

	tx, err := fx.payments.GetTransaction(context.Background(), creation.RequestID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != domain.TransactionStatusPending || tx.OrderID != "ord_1" || tx.Amount != 550000 {
		t.Fatalf("unexpected pending transaction %+v", tx)
	}
}

func TestCreateGatewayPaymentAmountMismatch(t *testing.T) {
	fx := newPaymentFixture(t)

	_, err := fx.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:       "ord_1",
		CustomerID:    "cus_1",
		PaymentMethod: PaymentMethodVNPay,
		Amount:        100,
	})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}

func TestCreateGatewayPaymentOrderAlreadyPaid(t *testing.T) {
	fx := newPaymentFixture(t)

	order := fx.orders.orders["ord_1"]
	order.Status = domain.OrderStatusPending
	order.PaymentState = domain.PaymentStatePaid
	fx.orders.orders["ord_1"] = order

	_, err := fx.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:       "ord_1",
		CustomerID:    "cus_1",
		PaymentMethod: PaymentMethodMoMo,
		Amount:        550000,
	})
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected ErrPaymentInvalidState, got %v", err)
	}
}

func TestCreatePaymentForeignOrderHidden(t *testing.T) {
	fx := newPaymentFixture(t)

	_, err := fx.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:       "ord_1",
		CustomerID:    "cus_other",
		ActorRole:     domain.RoleCustomer,
		PaymentMethod: PaymentMethodMoMo,
		Amount:        550000,
	})
	if !errors.Is(err, ErrPaymentOrderNotFound) {
		t.Fatalf("expected ErrPaymentOrderNotFound, got %v", err)
	}
}

func TestCreateManualPayment(t *testing.T) {
	fx := newPaymentFixture(t)

	creation, err := fx.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:       "ord_1",
		CustomerID:    "staff_1",
		ActorRole:     domain.RoleSalesSupport,
		PaymentType:   "CASH",
		PaymentMethod: "cash",
		Amount:        200000,
		Note:          "deposit at store",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if creation.Gateway || creation.Payment == nil {
		t.Fatalf("expected manual payment, got %+v", creation)
	}
	if creation.Payment.Status != domain.PaymentStatusPending || creation.Payment.Method != PaymentMethodCash {
		t.Fatalf("unexpected payment %+v", creation.Payment)
	}
}

func TestCreatePaymentUnsupportedMethod(t *testing.T) {
	fx := newPaymentFixture(t)

	_, err := fx.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:       "ord_1",
		CustomerID:    "cus_1",
		PaymentMethod: "ZALOPAY",
		Amount:        550000,
	})
	if !errors.Is(err, ErrPaymentUnsupportedMethod) {
		t.Fatalf("expected ErrPaymentUnsupportedMethod, got %v", err)
	}
}

func TestCreateGatewayPaymentGatewayFailure(t *testing.T) {
	fx := newPaymentFixture(t)
	fx.gateway.createErr = payments.ErrGatewayRejected

	_, err := fx.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:       "ord_1",
		CustomerID:    "cus_1",
		PaymentMethod: PaymentMethodMoMo,
		Amount:        550000,
	})
	if !errors.Is(err, ErrPaymentGatewayFailed) {
		t.Fatalf("expected ErrPaymentGatewayFailed, got %v", err)
	}
}

func (fx *paymentFixture) openTransaction(t *testing.T) string {
	t.Helper()
	creation, err := fx.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:       "ord_1",
		CustomerID:    "cus_1",
		PaymentMethod: PaymentMethodMoMo,
		Amount:        550000,
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	return creation.RequestID
}

func TestHandleGatewayCallbackSuccess(t *testing.T) {
	fx := newPaymentFixture(t)
	requestID := fx.openTransaction(t)

	fx.gateway.result = payments.CallbackResult{
		RequestID:            requestID,
		Success:              true,
		ResponseCode:         "0",
		Amount:               550000,
		GatewayTransactionID: "4088878653",
		Raw:                  map[string]any{"resultCode": "0"},
	}

	outcome, err := fx.service.HandleGatewayCallback(context.Background(), GatewayCallbackCommand{
		Gateway: "momo",
		Params:  map[string]string{"requestId": requestID},
	})
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if !outcome.Success || outcome.Replayed || outcome.OrderID != "ord_1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	tx, _ := fx.payments.GetTransaction(context.Background(), requestID)
	if tx.Status != domain.TransactionStatusSuccess || tx.PaidAt == nil {
		t.Fatalf("transaction not settled: %+v", tx)
	}
	if tx.GatewayTransactionID == nil || *tx.GatewayTransactionID != "4088878653" {
		t.Fatal("expected gateway transaction id recorded")
	}

	order := fx.orders.orders["ord_1"]
	if order.Status != domain.OrderStatusPending || order.PaymentState != domain.PaymentStatePaid || order.PaidAt == nil {
		t.Fatalf("order not flipped: %+v", order)
	}

	recorded, _ := fx.payments.ListPayments(context.Background(), "ord_1")
	if len(recorded) != 1 || recorded[0].Status != domain.PaymentStatusConfirmed {
		t.Fatalf("expected one confirmed payment, got %+v", recorded)
	}

	if names := fx.events.names(); len(names) != 1 || names[0] != EventOrderPaid {
		t.Fatalf("unexpected events %v", names)
	}
}

func TestHandleGatewayCallbackReplayIsIdempotent(t *testing.T) {
	fx := newPaymentFixture(t)
	requestID := fx.openTransaction(t)

	fx.gateway.result = payments.CallbackResult{RequestID: requestID, Success: true, Amount: 550000}

	if _, err := fx.service.HandleGatewayCallback(context.Background(), GatewayCallbackCommand{Gateway: "momo"}); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	outcome, err := fx.service.HandleGatewayCallback(context.Background(), GatewayCallbackCommand{Gateway: "momo"})
	if err != nil {
		t.Fatalf("replayed callback: %v", err)
	}
	if !outcome.Replayed {
		t.Fatal("expected replay to be reported")
	}

	recorded, _ := fx.payments.ListPayments(context.Background(), "ord_1")
	if len(recorded) != 1 {
		t.Fatalf("replay created a duplicate payment: %d", len(recorded))
	}
	if names := fx.events.names(); len(names) != 1 {
		t.Fatalf("replay published an extra event: %v", names)
	}
}

func TestHandleGatewayCallbackFailure(t *testing.T) {
	fx := newPaymentFixture(t)
	requestID := fx.openTransaction(t)

	fx.gateway.result = payments.CallbackResult{RequestID: requestID, Success: false, ResponseCode: "1006", Amount: 550000}

	outcome, err := fx.service.HandleGatewayCallback(context.Background(), GatewayCallbackCommand{Gateway: "momo"})
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if outcome.Success {
		t.Fatal("expected failure outcome")
	}

	tx, _ := fx.payments.GetTransaction(context.Background(), requestID)
	if tx.Status != domain.TransactionStatusFailed {
		t.Fatalf("transaction status = %s, want failed", tx.Status)
	}

	order := fx.orders.orders["ord_1"]
	if order.Status != domain.OrderStatusAwaitingPayment || order.PaymentState != domain.PaymentStateUnpaid {
		t.Fatalf("failed callback must not move the order: %+v", order)
	}
	if recorded, _ := fx.payments.ListPayments(context.Background(), "ord_1"); len(recorded) != 0 {
		t.Fatal("failed callback must not create a payment")
	}
}

func TestHandleGatewayCallbackSignatureMismatch(t *testing.T) {
	fx := newPaymentFixture(t)
	fx.gateway.verifyErr = payments.ErrSignatureMismatch

	_, err := fx.service.HandleGatewayCallback(context.Background(), GatewayCallbackCommand{Gateway: "momo"})
	if !errors.Is(err, ErrPaymentSignatureInvalid) {
		t.Fatalf("expected ErrPaymentSignatureInvalid, got %v", err)
	}
}

func TestHandleGatewayCallbackUnknownRequest(t *testing.T) {
	fx := newPaymentFixture(t)
	fx.gateway.result = payments.CallbackResult{RequestID: "OD000-unknown", Success: true}

	_, err := fx.service.HandleGatewayCallback(context.Background(), GatewayCallbackCommand{Gateway: "momo"})
	if !errors.Is(err, ErrPaymentTransactionNotFound) {
		t.Fatalf("expected ErrPaymentTransactionNotFound, got %v", err)
	}
}

func TestHandleGatewayCallbackAmountMismatch(t *testing.T) {
	fx := newPaymentFixture(t)
	requestID := fx.openTransaction(t)
	fx.gateway.result = payments.CallbackResult{RequestID: requestID, Success: true, Amount: 1}

	_, err := fx.service.HandleGatewayCallback(context.Background(), GatewayCallbackCommand{Gateway: "momo"})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}

func TestPaymentStatusSumsConfirmedOnly(t *testing.T) {
	fx := newPaymentFixture(t)

	mustInsert := func(p domain.Payment) {
		if err := fx.payments.InsertPayment(context.Background(), p); err != nil {
			t.Fatalf("InsertPayment: %v", err)
		}
	}
	mustInsert(domain.Payment{ID: "pay_a", OrderID: "ord_1", Amount: 300000, Status: domain.PaymentStatusConfirmed})
	mustInsert(domain.Payment{ID: "pay_b", OrderID: "ord_1", Amount: 100000, Status: domain.PaymentStatusPending})

	report, err := fx.service.PaymentStatus(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("PaymentStatus: %v", err)
	}
	if report.TotalPaid != 300000 {
		t.Fatalf("totalPaid = %d, want confirmed payments only", report.TotalPaid)
	}
	if report.RemainingBalance != 250000 {
		t.Fatalf("remaining = %d, want 250000", report.RemainingBalance)
	}
	if report.LatestTransaction != nil {
		t.Fatal("no transactions were opened, latest must be nil")
	}

	requestID := fx.openTransaction(t)
	report, err = fx.service.PaymentStatus(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("PaymentStatus: %v", err)
	}
	if report.LatestTransaction == nil || report.LatestTransaction.RequestID != requestID {
		t.Fatalf("expected latest transaction %q, got %+v", requestID, report.LatestTransaction)
	}
}
