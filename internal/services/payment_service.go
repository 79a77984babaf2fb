package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/payments"
	"github.com/eyeline-optics/api/internal/platform/textutil"
	"github.com/eyeline-optics/api/internal/repositories"
)

const paymentIDPrefix = "pay_"

// Payment types and manual methods accepted by CreatePayment.
const (
	PaymentTypeEWallet = "E_WALLET"
	PaymentTypeCard    = "CARD"

	PaymentMethodMoMo         = "MOMO"
	PaymentMethodVNPay        = "VNPAY"
	PaymentMethodCard         = "CARD"
	PaymentMethodCash         = "CASH"
	PaymentMethodBankTransfer = "BANK_TRANSFER"
)

var (
	// ErrPaymentInvalidInput indicates the caller supplied invalid input parameters.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentUnavailable indicates payment dependencies are currently unavailable.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
	// ErrPaymentOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrPaymentOrderNotFound = errors.New("payment: order not found")
	// ErrPaymentInvalidState indicates the order or transaction state forbids the operation.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentUnsupportedMethod indicates the payment method has no provider.
	ErrPaymentUnsupportedMethod = errors.New("payment: unsupported method")
	// ErrPaymentGatewayFailed indicates the gateway refused to open the payment.
	ErrPaymentGatewayFailed = errors.New("payment: gateway failed")
	// ErrPaymentSignatureInvalid indicates a callback failed signature verification.
	ErrPaymentSignatureInvalid = errors.New("payment: signature invalid")
	// ErrPaymentTransactionNotFound indicates no transaction matches the callback request id.
	ErrPaymentTransactionNotFound = errors.New("payment: transaction not found")
)

// gatewayManager abstracts payments.Manager for easier testing.
type gatewayManager interface {
	CreatePayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreatePaymentRequest) (payments.PaymentIntent, error)
	VerifyCallback(ctx context.Context, paymentCtx payments.PaymentContext, cb payments.Callback) (payments.CallbackResult, error)
}

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Orders   repositories.OrderRepository
	Payments repositories.PaymentRepository
	Gateways gatewayManager
	Events   OrderEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders   repositories.OrderRepository
	payments repositories.PaymentRepository
	gateways gatewayManager
	events   OrderEventPublisher
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment service: gateway manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:   deps.Orders,
		payments: deps.Payments,
		gateways: deps.Gateways,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreatePayment opens a gateway payment (pending transaction + redirect URL)
// or records a manual payment directly.
func (s *paymentService) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (PaymentCreation, error) {
	if s == nil || s.payments == nil {
		return PaymentCreation{}, ErrPaymentUnavailable
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	method := strings.ToUpper(strings.TrimSpace(cmd.PaymentMethod))
	if orderID == "" || method == "" {
		return PaymentCreation{}, ErrPaymentInvalidInput
	}
	if cmd.Amount <= 0 {
		return PaymentCreation{}, ErrPaymentInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentCreation{}, s.translateOrderError(err)
	}
	// Customers only pay their own orders; staff can record payments anywhere.
	if !cmd.ActorRole.Staff() && strings.TrimSpace(cmd.CustomerID) != order.CustomerID {
		return PaymentCreation{}, ErrPaymentOrderNotFound
	}

	if provider, ok := providerForMethod(method); ok {
		return s.createGatewayPayment(ctx, cmd, order, method, provider)
	}

	switch method {
	case PaymentMethodCash, PaymentMethodBankTransfer:
		return s.createManualPayment(ctx, cmd, order, method)
	default:
		return PaymentCreation{}, ErrPaymentUnsupportedMethod
	}
}

func (s *paymentService) createGatewayPayment(ctx context.Context, cmd CreatePaymentCommand, order domain.Order, method string, provider string) (PaymentCreation, error) {
	if order.Status != domain.OrderStatusAwaitingPayment || order.PaymentState != domain.PaymentStateUnpaid {
		return PaymentCreation{}, ErrPaymentInvalidState
	}
	if cmd.Amount != order.TotalAmount {
		return PaymentCreation{}, ErrPaymentInvalidInput
	}
	if _, err := currency.ParseISO(order.Currency); err != nil {
		s.logger(ctx, "payment.invalid_currency", map[string]any{
			"orderId":  order.ID,
			"currency": order.Currency,
		})
		return PaymentCreation{}, ErrPaymentInvalidInput
	}

	now := s.now()
	requestID := generateRequestID(order.OrderNumber)
	orderInfo := "Thanh toan don hang " + order.OrderNumber

	// The pending transaction is persisted before the gateway call so a
	// callback can never arrive for an unknown request id.
	tx := domain.PaymentTransaction{
		RequestID: requestID,
		OrderID:   order.ID,
		Gateway:   provider,
		Amount:    cmd.Amount,
		Currency:  order.Currency,
		Status:    domain.TransactionStatusPending,
		RawRequest: map[string]any{
			"orderNumber": order.OrderNumber,
			"method":      method,
			"amount":      cmd.Amount,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.InsertTransaction(ctx, tx); err != nil {
		return PaymentCreation{}, s.translatePaymentError(err)
	}

	intent, err := s.gateways.CreatePayment(ctx, payments.PaymentContext{PreferredProvider: provider}, payments.CreatePaymentRequest{
		RequestID:   requestID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      cmd.Amount,
		Currency:    order.Currency,
		OrderInfo:   orderInfo,
		CustomerID:  order.CustomerID,
		ClientIP:    cmd.ClientIP,
		ReturnURL:   cmd.ReturnURL,
	})
	if err != nil {
		s.logger(ctx, "payment.gateway_create_failed", map[string]any{
			"orderId":   order.ID,
			"provider":  provider,
			"requestId": requestID,
			"error":     err.Error(),
		})
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PaymentCreation{}, ErrPaymentUnsupportedMethod
		}
		return PaymentCreation{}, ErrPaymentGatewayFailed
	}

	tx.RawRequest["payUrl"] = intent.PayURL
	return PaymentCreation{
		Gateway:     true,
		RequestID:   requestID,
		RedirectURL: intent.PayURL,
		Transaction: &tx,
	}, nil
}

func (s *paymentService) createManualPayment(ctx context.Context, cmd CreatePaymentCommand, order domain.Order, method string) (PaymentCreation, error) {
	if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusDeleted {
		return PaymentCreation{}, ErrPaymentInvalidState
	}

	now := s.now()
	paymentType := strings.ToUpper(strings.TrimSpace(cmd.PaymentType))
	if paymentType == "" {
		paymentType = method
	}

	payment := domain.Payment{
		ID:        paymentIDPrefix + ulid.Make().String(),
		OrderID:   order.ID,
		Type:      paymentType,
		Method:    method,
		Amount:    cmd.Amount,
		Currency:  order.Currency,
		Status:    domain.PaymentStatusPending,
		Note:      strings.TrimSpace(cmd.Note),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.InsertPayment(ctx, payment); err != nil {
		return PaymentCreation{}, s.translatePaymentError(err)
	}
	return PaymentCreation{Payment: &payment}, nil
}

// HandleGatewayCallback verifies the callback signature, then applies the
// result exactly once. Replays of a settled callback succeed without writes.
func (s *paymentService) HandleGatewayCallback(ctx context.Context, cmd GatewayCallbackCommand) (CallbackOutcome, error) {
	if s == nil || s.payments == nil {
		return CallbackOutcome{}, ErrPaymentUnavailable
	}
	gateway := strings.ToLower(strings.TrimSpace(cmd.Gateway))
	if gateway == "" {
		return CallbackOutcome{}, ErrPaymentInvalidInput
	}

	result, err := s.gateways.VerifyCallback(ctx, payments.PaymentContext{PreferredProvider: gateway}, payments.Callback{
		Params:  textutil.NormalizeStringMap(cmd.Params),
		Body:    cmd.Body,
		Headers: cmd.Headers,
	})
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrSignatureMismatch):
			return CallbackOutcome{}, ErrPaymentSignatureInvalid
		case errors.Is(err, payments.ErrUnsupportedProvider):
			return CallbackOutcome{}, ErrPaymentUnsupportedMethod
		default:
			return CallbackOutcome{}, ErrPaymentInvalidInput
		}
	}

	requestID := strings.TrimSpace(result.RequestID)
	if requestID == "" {
		return CallbackOutcome{}, ErrPaymentInvalidInput
	}

	tx, err := s.payments.GetTransaction(ctx, requestID)
	if err != nil {
		return CallbackOutcome{}, s.translatePaymentError(err)
	}
	if result.Amount != 0 && result.Amount != tx.Amount {
		s.logger(ctx, "payment.callback_amount_mismatch", map[string]any{
			"requestId": requestID,
			"expected":  tx.Amount,
			"got":       result.Amount,
		})
		return CallbackOutcome{}, ErrPaymentInvalidInput
	}

	now := s.now()
	method := methodForProvider(tx.Gateway)
	paymentType := PaymentTypeEWallet
	if method == PaymentMethodCard {
		paymentType = PaymentTypeCard
	}

	var gatewayTxID *string
	if id := strings.TrimSpace(result.GatewayTransactionID); id != "" {
		gatewayTxID = &id
	}

	outcome, err := s.payments.ApplyGatewayResult(ctx, repositories.GatewayResultCommand{
		RequestID:            requestID,
		Success:              result.Success,
		GatewayTransactionID: gatewayTxID,
		RawResponse:          result.Raw,
		Payment: domain.Payment{
			ID:       deterministicPaymentID(tx.OrderID, paymentType, method, tx.Amount),
			OrderID:  tx.OrderID,
			Type:     paymentType,
			Method:   method,
			Amount:   tx.Amount,
			Currency: tx.Currency,
		},
		Now: now,
	})
	if err != nil {
		return CallbackOutcome{}, s.translatePaymentError(err)
	}

	if result.Success && !outcome.Replayed {
		s.publishEvent(ctx, OrderEvent{
			Name:       EventOrderPaid,
			OrderID:    outcome.Order.ID,
			CustomerID: outcome.Order.CustomerID,
			OccurredAt: now,
			Payload: map[string]any{
				"requestId": requestID,
				"amount":    tx.Amount,
				"method":    method,
			},
		})
	}

	return CallbackOutcome{
		OrderID:   tx.OrderID,
		RequestID: requestID,
		Success:   result.Success,
		Replayed:  outcome.Replayed,
	}, nil
}

// PaymentStatus reports the confirmed total against an order and its latest
// gateway transaction.
func (s *paymentService) PaymentStatus(ctx context.Context, orderID string) (PaymentStatusReport, error) {
	if s == nil || s.payments == nil {
		return PaymentStatusReport{}, ErrPaymentUnavailable
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return PaymentStatusReport{}, ErrPaymentInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentStatusReport{}, s.translateOrderError(err)
	}

	recorded, err := s.payments.ListPayments(ctx, orderID)
	if err != nil {
		return PaymentStatusReport{}, s.translatePaymentError(err)
	}
	var totalPaid int64
	for _, p := range recorded {
		if p.Status == domain.PaymentStatusConfirmed {
			totalPaid += p.Amount
		}
	}

	remaining := order.TotalAmount - totalPaid
	if remaining < 0 {
		remaining = 0
	}

	report := PaymentStatusReport{
		OrderID:          orderID,
		TotalAmount:      order.TotalAmount,
		TotalPaid:        totalPaid,
		RemainingBalance: remaining,
		PaymentState:     order.PaymentState,
	}

	latest, err := s.payments.LatestTransaction(ctx, orderID)
	if err == nil {
		report.LatestTransaction = &latest
	} else {
		var paymentErr *repositories.PaymentError
		if !errors.As(err, &paymentErr) || paymentErr.Code != repositories.PaymentErrorTransactionNotFound {
			return PaymentStatusReport{}, s.translatePaymentError(err)
		}
	}
	return report, nil
}

// ListPayments returns every recorded payment against an order.
func (s *paymentService) ListPayments(ctx context.Context, orderID string) ([]Payment, error) {
	if s == nil || s.payments == nil {
		return nil, ErrPaymentUnavailable
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrPaymentInvalidInput
	}
	recorded, err := s.payments.ListPayments(ctx, orderID)
	if err != nil {
		return nil, s.translatePaymentError(err)
	}
	return recorded, nil
}

func (s *paymentService) translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNotFound {
		return ErrPaymentOrderNotFound
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrPaymentOrderNotFound
	}
	return ErrPaymentUnavailable
}

func (s *paymentService) translatePaymentError(err error) error {
	if err == nil {
		return nil
	}
	var paymentErr *repositories.PaymentError
	if errors.As(err, &paymentErr) {
		switch paymentErr.Code {
		case repositories.PaymentErrorTransactionNotFound:
			return ErrPaymentTransactionNotFound
		case repositories.PaymentErrorDuplicateTransaction:
			return ErrPaymentInvalidState
		case repositories.PaymentErrorInvalidState:
			return ErrPaymentInvalidState
		}
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNotFound {
		return ErrPaymentOrderNotFound
	}
	return ErrPaymentUnavailable
}

func (s *paymentService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event_publish_failed", map[string]any{
			"event":   event.Name,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func providerForMethod(method string) (string, bool) {
	switch method {
	case PaymentMethodMoMo:
		return "momo", true
	case PaymentMethodVNPay:
		return "vnpay", true
	case PaymentMethodCard:
		return "stripe", true
	}
	return "", false
}

func methodForProvider(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "momo":
		return PaymentMethodMoMo
	case "vnpay":
		return PaymentMethodVNPay
	case "stripe":
		return PaymentMethodCard
	}
	return strings.ToUpper(strings.TrimSpace(provider))
}

// generateRequestID builds the gateway correlation id: order number plus a
// ulid fragment, at most 32 characters to satisfy VNPay's vnp_TxnRef limit.
func generateRequestID(orderNumber string) string {
	fragment := ulid.Make().String()
	fragment = fragment[len(fragment)-8:]
	id := strings.TrimSpace(orderNumber) + "-" + fragment
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}

// deterministicPaymentID derives a stable payment document id for one
// (order, type, method, amount) tuple so callback replays cannot create
// duplicate payments.
func deterministicPaymentID(orderID, paymentType, method string, amount int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", orderID, paymentType, method, amount)))
	return paymentIDPrefix + hex.EncodeToString(sum[:])[:26]
}
