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

const returnsCollection = "returnRequests"

// ReturnRepository persists return/exchange/warranty requests. Creating a
// request and flipping the owning order to return-requested is one
// transaction, as is every later status move.
type ReturnRepository struct {
	provider *pfirestore.Provider
	returns  *pfirestore.BaseRepository[returnDocument]
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	return &ReturnRepository{
		provider: provider,
		returns:  pfirestore.NewBaseRepository[returnDocument](provider, returnsCollection, nil, nil),
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Create writes the request and moves the order to return-requested in one
// transaction. The guard runs against the order state read inside the
// transaction so a concurrent status change aborts the creation.
func (r *ReturnRepository) Create(ctx context.Context, request domain.ReturnRequest, guard func(domain.Order) error) (domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	if strings.TrimSpace(request.ID) == "" {
		return domain.ReturnRequest{}, errors.New("return create: id is required")
	}
	if strings.TrimSpace(request.OrderID) == "" {
		return domain.ReturnRequest{}, errors.New("return create: order id is required")
	}

	var created domain.ReturnRequest
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, request.OrderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound,
					fmt.Sprintf("order %s not found", request.OrderID), err)
			}
			return err
		}
		var orderDoc orderDocument
		if err := orderSnap.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("decode order %s: %w", request.OrderID, err)
		}

		if guard != nil {
			if err := guard(orderDoc.toDomain(request.OrderID)); err != nil {
				return err
			}
		}

		returnRef, err := r.returns.DocumentRef(ctx, request.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(returnRef, newReturnDocument(request)); err != nil {
			return err
		}

		orderDoc.Status = string(domain.OrderStatusReturnRequested)
		orderDoc.UpdatedAt = request.CreatedAt.UTC()
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		created = request
		return nil
	})
	if err != nil {
		return domain.ReturnRequest{}, wrapOrderError("returns.create", err)
	}
	return created, nil
}

// FindByID fetches a return request by id.
func (r *ReturnRepository) FindByID(ctx context.Context, requestID string) (domain.ReturnRequest, error) {
	if r == nil || r.returns == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.ReturnRequest{}, errors.New("return find: id is required")
	}

	doc, err := r.returns.Get(ctx, requestID)
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByOrder returns all requests filed against an order.
func (r *ReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	if r == nil || r.returns == nil {
		return nil, errors.New("return repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("returns: order id is required")
	}

	docs, err := r.returns.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return nil, pfirestore.WrapError("returns.list", err)
	}

	requests := make([]domain.ReturnRequest, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, doc.Data.toDomain(doc.ID))
	}
	return requests, nil
}

// ApplyTransition updates the request and its owning order together.
func (r *ReturnRepository) ApplyTransition(ctx context.Context, requestID string, apply func(domain.ReturnRequest, domain.Order) (domain.ReturnRequest, domain.Order, error)) (domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.ReturnRequest{}, errors.New("return transition: id is required")
	}
	if apply == nil {
		return domain.ReturnRequest{}, errors.New("return transition: mutation is required")
	}

	var updated domain.ReturnRequest
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		returnRef, err := r.returns.DocumentRef(ctx, requestID)
		if err != nil {
			return err
		}
		returnSnap, err := tx.Get(returnRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound,
					fmt.Sprintf("return request %s not found", requestID), err)
			}
			return err
		}
		var returnDoc returnDocument
		if err := returnSnap.DataTo(&returnDoc); err != nil {
			return fmt.Errorf("decode return %s: %w", requestID, err)
		}

		orderRef, err := r.orders.DocumentRef(ctx, returnDoc.OrderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound,
					fmt.Sprintf("order %s not found", returnDoc.OrderID), err)
			}
			return err
		}
		var orderDoc orderDocument
		if err := orderSnap.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("decode order %s: %w", returnDoc.OrderID, err)
		}

		nextReturn, nextOrder, err := apply(returnDoc.toDomain(requestID), orderDoc.toDomain(returnDoc.OrderID))
		if err != nil {
			return err
		}

		if err := tx.Set(returnRef, newReturnDocument(nextReturn)); err != nil {
			return err
		}
		if err := tx.Set(orderRef, newOrderDocument(nextOrder)); err != nil {
			return err
		}
		updated = nextReturn
		return nil
	})
	if err != nil {
		return domain.ReturnRequest{}, wrapOrderError("returns.transition", err)
	}
	return updated, nil
}

// Document structures -------------------------------------------------------

type returnDocument struct {
	RequestNumber   string               `firestore:"requestNumber"`
	OrderID         string               `firestore:"orderId"`
	CustomerID      string               `firestore:"customerId"`
	Type            string               `firestore:"type"`
	Status          string               `firestore:"status"`
	Reason          string               `firestore:"reason,omitempty"`
	Description     string               `firestore:"description,omitempty"`
	ExchangeOrderID *string              `firestore:"exchangeOrderId,omitempty"`
	Items           []returnItemDocument `firestore:"items"`
	CreatedAt       time.Time            `firestore:"createdAt"`
	UpdatedAt       time.Time            `firestore:"updatedAt"`
}

type returnItemDocument struct {
	VariantID string `firestore:"variantId"`
	Quantity  int    `firestore:"quantity"`
}

func newReturnDocument(req domain.ReturnRequest) returnDocument {
	items := make([]returnItemDocument, len(req.Items))
	for i, item := range req.Items {
		items[i] = returnItemDocument{VariantID: item.VariantID, Quantity: item.Quantity}
	}
	return returnDocument{
		RequestNumber:   strings.TrimSpace(req.RequestNumber),
		OrderID:         strings.TrimSpace(req.OrderID),
		CustomerID:      strings.TrimSpace(req.CustomerID),
		Type:            string(req.Type),
		Status:          string(req.Status),
		Reason:          strings.TrimSpace(req.Reason),
		Description:     strings.TrimSpace(req.Description),
		ExchangeOrderID: req.ExchangeOrderID,
		Items:           items,
		CreatedAt:       req.CreatedAt.UTC(),
		UpdatedAt:       req.UpdatedAt.UTC(),
	}
}

func (d returnDocument) toDomain(id string) domain.ReturnRequest {
	items := make([]domain.ReturnItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.ReturnItem{VariantID: item.VariantID, Quantity: item.Quantity}
	}
	return domain.ReturnRequest{
		ID:              id,
		RequestNumber:   d.RequestNumber,
		OrderID:         d.OrderID,
		CustomerID:      d.CustomerID,
		Type:            domain.ReturnType(d.Type),
		Status:          domain.OrderStatus(d.Status),
		Reason:          d.Reason,
		Description:     d.Description,
		ExchangeOrderID: d.ExchangeOrderID,
		Items:           items,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
