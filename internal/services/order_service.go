package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderTransitionDenied indicates the actor may not move the order to the target status.
	ErrOrderTransitionDenied = errors.New("order: transition denied")
)

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Events OrderEventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	events OrderEventPublisher
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders: deps.Orders,
		events: deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListOrders pages through orders newest first. Customers are always scoped
// to their own orders; staff may filter by any customer.
func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}

	filter := repositories.OrderListFilter{
		Status:     query.Status,
		Pagination: query.Pagination,
	}
	if query.ActorRole.Staff() {
		filter.CustomerID = strings.TrimSpace(query.CustomerID)
	} else {
		actorID := strings.TrimSpace(query.ActorID)
		if actorID == "" {
			return domain.CursorPage[Order]{}, ErrOrderInvalidInput
		}
		filter.CustomerID = actorID
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateError(err)
	}
	return page, nil
}

// GetOrder fetches one order. A customer asking for someone else's order gets
// a not-found answer, never a hint that the order exists.
func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	if !query.ActorRole.Staff() && order.CustomerID != strings.TrimSpace(query.ActorID) {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// TransitionStatus moves an order through the staff state machine. The role
// check runs against the status re-read inside the transaction, so a
// concurrent transition cannot be built on stale state.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || cmd.Target == "" {
		return Order{}, ErrOrderInvalidInput
	}

	now := s.now()
	var from domain.OrderStatus
	updated, err := s.orders.ApplyTransition(ctx, orderID, func(order domain.Order) (domain.Order, error) {
		from = order.Status
		if !domain.CanTransition(cmd.ActorRole, order.Status, cmd.Target) {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorTransitionDenied,
				fmt.Sprintf("role %s may not move order from %s to %s", cmd.ActorRole, order.Status, cmd.Target), nil)
		}
		next := order
		next.Status = cmd.Target
		next.UpdatedAt = now
		stampTransition(&next, cmd.Target, now)
		return next, nil
	})
	if err != nil {
		return Order{}, s.translateError(err)
	}

	s.logger(ctx, "order.transitioned", map[string]any{
		"orderId": updated.ID,
		"from":    string(from),
		"to":      string(updated.Status),
		"actorId": cmd.ActorID,
	})
	s.publishEvent(ctx, OrderEvent{
		Name:       EventOrderStatusChanged,
		OrderID:    updated.ID,
		CustomerID: updated.CustomerID,
		OccurredAt: now,
		Payload: map[string]any{
			"from":    string(from),
			"to":      string(updated.Status),
			"actorId": cmd.ActorID,
			"reason":  strings.TrimSpace(cmd.Reason),
		},
	})
	return updated, nil
}

// stampTransition records the first time an order reaches a milestone status.
func stampTransition(order *domain.Order, target domain.OrderStatus, now time.Time) {
	switch target {
	case domain.OrderStatusShipped:
		if order.ShippedAt == nil {
			order.ShippedAt = &now
		}
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	case domain.OrderStatusCompleted:
		if order.CompletedAt == nil {
			order.CompletedAt = &now
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func (s *orderService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return ErrOrderNotFound
		case repositories.OrderErrorTransitionDenied:
			return ErrOrderTransitionDenied
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrOrderNotFound
	}
	return ErrOrderUnavailable
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"event":   event.Name,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}
