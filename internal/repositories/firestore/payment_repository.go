package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/eyeline-optics/api/internal/domain"
	pfirestore "github.com/eyeline-optics/api/internal/platform/firestore"
	"github.com/eyeline-optics/api/internal/repositories"
)

const (
	paymentTransactionsCollection = "paymentTransactions"
	paymentsCollection            = "payments"
)

// PaymentRepository stores payment transactions and materialized payments.
// Transaction documents are keyed by request id so a duplicate request id can
// never create a second document.
type PaymentRepository struct {
	provider     *pfirestore.Provider
	transactions *pfirestore.BaseRepository[transactionDocument]
	payments     *pfirestore.BaseRepository[paymentDocument]
	orders       *pfirestore.BaseRepository[orderDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{
		provider:     provider,
		transactions: pfirestore.NewBaseRepository[transactionDocument](provider, paymentTransactionsCollection, nil, nil),
		payments:     pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection, nil, nil),
		orders:       pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// InsertTransaction creates the pending transaction document. A request id
// collision surfaces as a duplicate error instead of overwriting.
func (r *PaymentRepository) InsertTransaction(ctx context.Context, tx domain.PaymentTransaction) error {
	if r == nil || r.transactions == nil {
		return errors.New("payment repository not initialised")
	}
	requestID := strings.TrimSpace(tx.RequestID)
	if requestID == "" {
		return errors.New("payment transaction: request id is required")
	}

	ref, err := r.transactions.DocumentRef(ctx, requestID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newTransactionDocument(tx)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return repositories.NewPaymentError(repositories.PaymentErrorDuplicateTransaction,
				fmt.Sprintf("transaction %s already exists", requestID), err)
		}
		return pfirestore.WrapError("paymentTransactions.insert", err)
	}
	return nil
}

// GetTransaction fetches a transaction by its request id.
func (r *PaymentRepository) GetTransaction(ctx context.Context, requestID string) (domain.PaymentTransaction, error) {
	if r == nil || r.transactions == nil {
		return domain.PaymentTransaction{}, errors.New("payment repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.PaymentTransaction{}, errors.New("payment transaction: request id is required")
	}

	doc, err := r.transactions.Get(ctx, requestID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.PaymentTransaction{}, repositories.NewPaymentError(repositories.PaymentErrorTransactionNotFound,
				fmt.Sprintf("transaction %s not found", requestID), err)
		}
		return domain.PaymentTransaction{}, pfirestore.WrapError("paymentTransactions.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// LatestTransaction returns the most recently created transaction for an order.
func (r *PaymentRepository) LatestTransaction(ctx context.Context, orderID string) (domain.PaymentTransaction, error) {
	if r == nil || r.transactions == nil {
		return domain.PaymentTransaction{}, errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.PaymentTransaction{}, errors.New("payment transaction: order id is required")
	}

	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Desc).Limit(1)
	})
	if err != nil {
		return domain.PaymentTransaction{}, pfirestore.WrapError("paymentTransactions.latest", err)
	}
	if len(docs) == 0 {
		return domain.PaymentTransaction{}, repositories.NewPaymentError(repositories.PaymentErrorTransactionNotFound,
			fmt.Sprintf("no transactions for order %s", orderID), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ApplyGatewayResult performs the idempotent reconciliation write. A replay
// against an already successful transaction returns without mutating state.
// At most one confirmed payment exists per (order, type, method, amount)
// because the payment document id is deterministic for that tuple.
func (r *PaymentRepository) ApplyGatewayResult(ctx context.Context, cmd repositories.GatewayResultCommand) (repositories.GatewayResultOutcome, error) {
	if r == nil || r.provider == nil {
		return repositories.GatewayResultOutcome{}, errors.New("payment repository not initialised")
	}
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return repositories.GatewayResultOutcome{}, errors.New("payment reconcile: request id is required")
	}

	now := cmd.Now.UTC()
	var outcome repositories.GatewayResultOutcome

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		txRef, err := r.transactions.DocumentRef(ctx, requestID)
		if err != nil {
			return err
		}
		txSnap, err := tx.Get(txRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewPaymentError(repositories.PaymentErrorTransactionNotFound,
					fmt.Sprintf("transaction %s not found", requestID), err)
			}
			return err
		}
		var txDoc transactionDocument
		if err := txSnap.DataTo(&txDoc); err != nil {
			return fmt.Errorf("decode transaction %s: %w", requestID, err)
		}

		if txDoc.Status == string(domain.TransactionStatusSuccess) {
			outcome = repositories.GatewayResultOutcome{
				Transaction: txDoc.toDomain(requestID),
				Replayed:    true,
			}
			return nil
		}
		if txDoc.Status != string(domain.TransactionStatusPending) {
			return repositories.NewPaymentError(repositories.PaymentErrorInvalidState,
				fmt.Sprintf("transaction %s is %s, cannot reconcile", requestID, txDoc.Status), nil)
		}

		orderRef, err := r.orders.DocumentRef(ctx, txDoc.OrderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound,
					fmt.Sprintf("order %s not found", txDoc.OrderID), err)
			}
			return err
		}
		var orderDoc orderDocument
		if err := orderSnap.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("decode order %s: %w", txDoc.OrderID, err)
		}

		var paymentRef *firestore.DocumentRef
		paymentExists := false
		if cmd.Success {
			paymentRef, err = r.payments.DocumentRef(ctx, cmd.Payment.ID)
			if err != nil {
				return err
			}
			if _, err := tx.Get(paymentRef); err == nil {
				paymentExists = true
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		txDoc.UpdatedAt = now
		txDoc.RawResponse = cmd.RawResponse
		txDoc.GatewayTransactionID = cmd.GatewayTransactionID
		if cmd.Success {
			txDoc.Status = string(domain.TransactionStatusSuccess)
			txDoc.PaidAt = &now
		} else {
			txDoc.Status = string(domain.TransactionStatusFailed)
		}
		if err := tx.Set(txRef, txDoc); err != nil {
			return err
		}

		if cmd.Success && !paymentExists {
			payment := cmd.Payment
			payment.OrderID = txDoc.OrderID
			payment.Status = domain.PaymentStatusConfirmed
			payment.CreatedAt = now
			payment.UpdatedAt = now
			if err := tx.Create(paymentRef, newPaymentDocument(payment)); err != nil {
				return err
			}
			outcome.PaymentCreated = true
		}

		if cmd.Success &&
			orderDoc.Status == string(domain.OrderStatusAwaitingPayment) &&
			orderDoc.PaymentState == string(domain.PaymentStateUnpaid) {
			orderDoc.Status = string(domain.OrderStatusPending)
			orderDoc.PaymentState = string(domain.PaymentStatePaid)
			orderDoc.PaidAt = &now
			orderDoc.UpdatedAt = now
			if err := tx.Set(orderRef, orderDoc); err != nil {
				return err
			}
		}

		outcome.Transaction = txDoc.toDomain(requestID)
		outcome.Order = orderDoc.toDomain(txDoc.OrderID)
		return nil
	})
	if err != nil {
		return repositories.GatewayResultOutcome{}, wrapPaymentError("payments.reconcile", err)
	}
	return outcome, nil
}

// InsertPayment records a manual (non-gateway) payment.
func (r *PaymentRepository) InsertPayment(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.payments == nil {
		return errors.New("payment repository not initialised")
	}
	if strings.TrimSpace(payment.ID) == "" {
		return errors.New("payment: id is required")
	}

	ref, err := r.payments.DocumentRef(ctx, payment.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newPaymentDocument(payment)); err != nil {
		return pfirestore.WrapError("payments.insert", err)
	}
	return nil
}

// ListPayments returns all payments recorded against an order.
func (r *PaymentRepository) ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if r == nil || r.payments == nil {
		return nil, errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("payments: order id is required")
	}

	docs, err := r.payments.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return nil, pfirestore.WrapError("payments.list", err)
	}

	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, doc.Data.toDomain(doc.ID))
	}
	return payments, nil
}

// Document structures -------------------------------------------------------

type transactionDocument struct {
	OrderID              string         `firestore:"orderId"`
	Gateway              string         `firestore:"gateway"`
	GatewayTransactionID *string        `firestore:"gatewayTransactionId,omitempty"`
	Amount               int64          `firestore:"amount"`
	Currency             string         `firestore:"currency"`
	Status               string         `firestore:"status"`
	RawRequest           map[string]any `firestore:"rawRequest,omitempty"`
	RawResponse          map[string]any `firestore:"rawResponse,omitempty"`
	CreatedAt            time.Time      `firestore:"createdAt"`
	UpdatedAt            time.Time      `firestore:"updatedAt"`
	PaidAt               *time.Time     `firestore:"paidAt,omitempty"`
}

func newTransactionDocument(tx domain.PaymentTransaction) transactionDocument {
	return transactionDocument{
		OrderID:              strings.TrimSpace(tx.OrderID),
		Gateway:              strings.TrimSpace(tx.Gateway),
		GatewayTransactionID: tx.GatewayTransactionID,
		Amount:               tx.Amount,
		Currency:             strings.TrimSpace(tx.Currency),
		Status:               string(tx.Status),
		RawRequest:           tx.RawRequest,
		RawResponse:          tx.RawResponse,
		CreatedAt:            tx.CreatedAt.UTC(),
		UpdatedAt:            tx.UpdatedAt.UTC(),
		PaidAt:               tx.PaidAt,
	}
}

func (d transactionDocument) toDomain(id string) domain.PaymentTransaction {
	return domain.PaymentTransaction{
		RequestID:            id,
		OrderID:              d.OrderID,
		Gateway:              d.Gateway,
		GatewayTransactionID: d.GatewayTransactionID,
		Amount:               d.Amount,
		Currency:             d.Currency,
		Status:               domain.TransactionStatus(d.Status),
		RawRequest:           d.RawRequest,
		RawResponse:          d.RawResponse,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
		PaidAt:               d.PaidAt,
	}
}

type paymentDocument struct {
	OrderID   string    `firestore:"orderId"`
	Type      string    `firestore:"type"`
	Method    string    `firestore:"method"`
	Amount    int64     `firestore:"amount"`
	Currency  string    `firestore:"currency"`
	Status    string    `firestore:"status"`
	Note      string    `firestore:"note,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newPaymentDocument(p domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:   strings.TrimSpace(p.OrderID),
		Type:      strings.TrimSpace(p.Type),
		Method:    strings.TrimSpace(p.Method),
		Amount:    p.Amount,
		Currency:  strings.TrimSpace(p.Currency),
		Status:    string(p.Status),
		Note:      strings.TrimSpace(p.Note),
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:        id,
		OrderID:   d.OrderID,
		Type:      d.Type,
		Method:    d.Method,
		Amount:    d.Amount,
		Currency:  d.Currency,
		Status:    domain.PaymentStatus(d.Status),
		Note:      d.Note,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func wrapPaymentError(op string, err error) error {
	if err == nil {
		return nil
	}
	var payErr *repositories.PaymentError
	if errors.As(err, &payErr) {
		if payErr.Op == "" {
			payErr.Op = op
		}
		return payErr
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}
