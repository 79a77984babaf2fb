package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/repositories"
)

const (
	returnIDPrefix   = "ret_"
	returnsCounterID = "returns"
)

var (
	// ErrReturnInvalidInput indicates the caller supplied invalid input parameters.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnUnavailable indicates return dependencies are currently unavailable.
	ErrReturnUnavailable = errors.New("return: unavailable")
	// ErrReturnOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrReturnOrderNotFound = errors.New("return: order not found")
	// ErrReturnNotFound indicates the return request does not exist or is not visible to the caller.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnInvalidState indicates the order status forbids filing a return.
	ErrReturnInvalidState = errors.New("return: order not returnable")
	// ErrReturnInvalidItems indicates the item lines do not match the original order.
	ErrReturnInvalidItems = errors.New("return: invalid items")
	// ErrReturnTransitionDenied indicates the actor may not move the request to the target status.
	ErrReturnTransitionDenied = errors.New("return: transition denied")
)

// returnTextPolicy strips all markup from customer-entered free text before
// it is persisted.
var returnTextPolicy = bluemonday.StrictPolicy()

// ReturnServiceDeps wires the dependencies required by the return service.
type ReturnServiceDeps struct {
	Returns  repositories.ReturnRepository
	Orders   repositories.OrderRepository
	Counters repositories.CounterRepository
	Events   OrderEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	returns  repositories.ReturnRepository
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	events   OrderEventPublisher
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewReturnService constructs a ReturnService validating required dependencies.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("return service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &returnService{
		returns:  deps.Returns,
		orders:   deps.Orders,
		counters: deps.Counters,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateReturn files a return/exchange/warranty request against a delivered
// order. The delivered check runs against the order state read inside the
// repository transaction, and creation flips the order to return-requested.
func (s *returnService) CreateReturn(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error) {
	if s == nil || s.returns == nil {
		return ReturnRequest{}, ErrReturnUnavailable
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	customerID := strings.TrimSpace(cmd.CustomerID)
	if orderID == "" || customerID == "" {
		return ReturnRequest{}, ErrReturnInvalidInput
	}
	if !validReturnType(cmd.Type) {
		return ReturnRequest{}, ErrReturnInvalidInput
	}
	reason := sanitizeFreeText(cmd.Reason)
	if reason == "" {
		return ReturnRequest{}, ErrReturnInvalidInput
	}
	if len(cmd.Items) == 0 {
		return ReturnRequest{}, ErrReturnInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ReturnRequest{}, s.translateError(err)
	}
	if order.CustomerID != customerID {
		return ReturnRequest{}, ErrReturnOrderNotFound
	}
	if err := validateReturnItems(cmd.Items, order.Items); err != nil {
		return ReturnRequest{}, err
	}

	sequence, err := s.counters.Next(ctx, returnsCounterID, 1)
	if err != nil {
		return ReturnRequest{}, s.translateError(err)
	}

	now := s.now()
	request := domain.ReturnRequest{
		ID:            returnIDPrefix + ulid.Make().String(),
		RequestNumber: fmt.Sprintf("RT%06d", sequence),
		OrderID:       order.ID,
		CustomerID:    customerID,
		Type:          cmd.Type,
		Status:        domain.OrderStatusReturnRequested,
		Reason:        reason,
		Description:   sanitizeFreeText(cmd.Description),
		Items:         append([]domain.ReturnItem(nil), cmd.Items...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created, err := s.returns.Create(ctx, request, func(order domain.Order) error {
		if order.Status != domain.OrderStatusDelivered {
			return repositories.NewOrderError(repositories.OrderErrorInvalidState,
				fmt.Sprintf("order %s is %s, returns require delivered", order.ID, order.Status), nil)
		}
		return nil
	})
	if err != nil {
		return ReturnRequest{}, s.translateError(err)
	}

	s.logger(ctx, "return.created", map[string]any{
		"requestId":  created.ID,
		"orderId":    created.OrderID,
		"customerId": created.CustomerID,
		"type":       string(created.Type),
	})
	s.publishEvent(ctx, OrderEvent{
		Name:       EventOrderStatusChanged,
		OrderID:    created.OrderID,
		CustomerID: created.CustomerID,
		OccurredAt: now,
		Payload: map[string]any{
			"from":            string(domain.OrderStatusDelivered),
			"to":              string(domain.OrderStatusReturnRequested),
			"returnRequestId": created.ID,
		},
	})
	return created, nil
}

// GetReturn fetches one return request. Customers only see their own.
func (s *returnService) GetReturn(ctx context.Context, query GetReturnQuery) (ReturnRequest, error) {
	if s == nil || s.returns == nil {
		return ReturnRequest{}, ErrReturnUnavailable
	}
	requestID := strings.TrimSpace(query.RequestID)
	if requestID == "" {
		return ReturnRequest{}, ErrReturnInvalidInput
	}

	request, err := s.returns.FindByID(ctx, requestID)
	if err != nil {
		return ReturnRequest{}, s.translateError(err)
	}
	if !query.ActorRole.Staff() && request.CustomerID != strings.TrimSpace(query.ActorID) {
		return ReturnRequest{}, ErrReturnNotFound
	}
	return request, nil
}

// ListReturnsByOrder lists the return requests filed against one order.
func (s *returnService) ListReturnsByOrder(ctx context.Context, query ListReturnsQuery) ([]ReturnRequest, error) {
	if s == nil || s.returns == nil {
		return nil, ErrReturnUnavailable
	}
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return nil, ErrReturnInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, s.translateError(err)
	}
	if !query.ActorRole.Staff() && order.CustomerID != strings.TrimSpace(query.ActorID) {
		return nil, ErrReturnOrderNotFound
	}
	return s.returns.ListByOrder(ctx, orderID)
}

// TransitionReturn moves a return request through the staff state machine and
// mirrors the status onto the owning order.
func (s *returnService) TransitionReturn(ctx context.Context, cmd ReturnTransitionCommand) (ReturnRequest, error) {
	if s == nil || s.returns == nil {
		return ReturnRequest{}, ErrReturnUnavailable
	}
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" || cmd.Target == "" {
		return ReturnRequest{}, ErrReturnInvalidInput
	}

	now := s.now()
	var from domain.OrderStatus
	var customerID string
	updated, err := s.returns.ApplyTransition(ctx, requestID, func(request domain.ReturnRequest, order domain.Order) (domain.ReturnRequest, domain.Order, error) {
		from = request.Status
		customerID = request.CustomerID
		if !domain.CanTransition(cmd.ActorRole, request.Status, cmd.Target) {
			return domain.ReturnRequest{}, domain.Order{}, repositories.NewOrderError(repositories.OrderErrorTransitionDenied,
				fmt.Sprintf("role %s may not move return from %s to %s", cmd.ActorRole, request.Status, cmd.Target), nil)
		}
		request.Status = cmd.Target
		request.UpdatedAt = now
		order.Status = cmd.Target
		order.UpdatedAt = now
		return request, order, nil
	})
	if err != nil {
		return ReturnRequest{}, s.translateError(err)
	}

	s.logger(ctx, "return.transitioned", map[string]any{
		"requestId": updated.ID,
		"from":      string(from),
		"to":        string(updated.Status),
		"actorId":   cmd.ActorID,
	})
	s.publishEvent(ctx, OrderEvent{
		Name:       EventOrderStatusChanged,
		OrderID:    updated.OrderID,
		CustomerID: customerID,
		OccurredAt: now,
		Payload: map[string]any{
			"from":            string(from),
			"to":              string(updated.Status),
			"actorId":         cmd.ActorID,
			"returnRequestId": updated.ID,
		},
	})
	return updated, nil
}

func validReturnType(t domain.ReturnType) bool {
	switch t {
	case domain.ReturnTypeExchange, domain.ReturnTypeReturn, domain.ReturnTypeWarranty:
		return true
	default:
		return false
	}
}

// validateReturnItems checks every requested line against the original order:
// the variant must exist on the order and the quantity must not exceed what
// was bought, summed across duplicate lines.
func validateReturnItems(requested []domain.ReturnItem, original []domain.OrderItem) error {
	bought := make(map[string]int, len(original))
	for _, item := range original {
		bought[item.VariantID] += item.Quantity
	}
	asked := make(map[string]int, len(requested))
	for _, item := range requested {
		if strings.TrimSpace(item.VariantID) == "" || item.Quantity <= 0 {
			return ErrReturnInvalidItems
		}
		limit, ok := bought[item.VariantID]
		if !ok {
			return ErrReturnInvalidItems
		}
		asked[item.VariantID] += item.Quantity
		if asked[item.VariantID] > limit {
			return ErrReturnInvalidItems
		}
	}
	return nil
}

func sanitizeFreeText(s string) string {
	return strings.TrimSpace(returnTextPolicy.Sanitize(s))
}

func (s *returnService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return ErrReturnOrderNotFound
		case repositories.OrderErrorInvalidState:
			return ErrReturnInvalidState
		case repositories.OrderErrorTransitionDenied:
			return ErrReturnTransitionDenied
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrReturnNotFound
	}
	return ErrReturnUnavailable
}

func (s *returnService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "return.event_publish_failed", map[string]any{
			"event":   event.Name,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}
