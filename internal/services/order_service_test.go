package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
)

type orderFixture struct {
	service OrderService
	orders  *fakeOrders
	events  *fakeEvents
	now     time.Time
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	now := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	orders := &fakeOrders{
		orders: map[string]domain.Order{
			"ord_1": {
				ID:           "ord_1",
				OrderNumber:  "OD240501103000001",
				CustomerID:   "cus_1",
				Status:       domain.OrderStatusPending,
				PaymentState: domain.PaymentStatePaid,
				TotalAmount:  100000,
				CreatedAt:    now.Add(-2 * time.Hour),
			},
			"ord_2": {
				ID:           "ord_2",
				OrderNumber:  "OD240501113000002",
				CustomerID:   "cus_2",
				Status:       domain.OrderStatusConfirmed,
				PaymentState: domain.PaymentStatePaid,
				TotalAmount:  200000,
				CreatedAt:    now.Add(-time.Hour),
			},
		},
	}
	events := &fakeEvents{}

	service, err := NewOrderService(OrderServiceDeps{
		Orders: orders,
		Events: events,
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return &orderFixture{service: service, orders: orders, events: events, now: now}
}

func TestListOrdersCustomerScopedToOwn(t *testing.T) {
	fx := newOrderFixture(t)

	page, err := fx.service.ListOrders(context.Background(), OrderListQuery{
		ActorID:    "cus_1",
		ActorRole:  domain.RoleCustomer,
		CustomerID: "cus_2",
	})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_1" {
		t.Fatalf("customer must only see own orders, got %+v", page.Items)
	}
}

func TestListOrdersStaffSeesAll(t *testing.T) {
	fx := newOrderFixture(t)

	page, err := fx.service.ListOrders(context.Background(), OrderListQuery{
		ActorID:   "staff_1",
		ActorRole: domain.RoleOperations,
	})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("staff must see all orders, got %d", len(page.Items))
	}
	if page.Items[0].ID != "ord_2" {
		t.Fatalf("expected newest first, got %s", page.Items[0].ID)
	}
}

func TestListOrdersStaffStatusFilter(t *testing.T) {
	fx := newOrderFixture(t)

	page, err := fx.service.ListOrders(context.Background(), OrderListQuery{
		ActorID:   "staff_1",
		ActorRole: domain.RoleSalesSupport,
		Status:    []domain.OrderStatus{domain.OrderStatusConfirmed},
	})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_2" {
		t.Fatalf("unexpected filtered page %+v", page.Items)
	}
}

func TestGetOrderForeignCustomerReadsAsNotFound(t *testing.T) {
	fx := newOrderFixture(t)

	_, err := fx.service.GetOrder(context.Background(), GetOrderQuery{
		OrderID:   "ord_2",
		ActorID:   "cus_1",
		ActorRole: domain.RoleCustomer,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	order, err := fx.service.GetOrder(context.Background(), GetOrderQuery{
		OrderID:   "ord_2",
		ActorID:   "staff_1",
		ActorRole: domain.RoleManager,
	})
	if err != nil {
		t.Fatalf("staff GetOrder: %v", err)
	}
	if order.ID != "ord_2" {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestTransitionStatusRoleGating(t *testing.T) {
	fx := newOrderFixture(t)

	// Sales support may validate a pending order.
	order, err := fx.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_1",
		Target:    domain.OrderStatusValidated,
		ActorID:   "staff_sales",
		ActorRole: domain.RoleSalesSupport,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if order.Status != domain.OrderStatusValidated {
		t.Fatalf("status = %s, want validated", order.Status)
	}

	// Sales support may not move a confirmed order into processing.
	_, err = fx.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_2",
		Target:    domain.OrderStatusProcessing,
		ActorID:   "staff_sales",
		ActorRole: domain.RoleSalesSupport,
	})
	if !errors.Is(err, ErrOrderTransitionDenied) {
		t.Fatalf("expected ErrOrderTransitionDenied, got %v", err)
	}

	// Operations may.
	order, err = fx.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_2",
		Target:    domain.OrderStatusProcessing,
		ActorID:   "staff_ops",
		ActorRole: domain.RoleOperations,
	})
	if err != nil {
		t.Fatalf("operations TransitionStatus: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("status = %s, want processing", order.Status)
	}
}

func TestTransitionStatusCustomerDenied(t *testing.T) {
	fx := newOrderFixture(t)

	_, err := fx.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_1",
		Target:    domain.OrderStatusValidated,
		ActorID:   "cus_1",
		ActorRole: domain.RoleCustomer,
	})
	if !errors.Is(err, ErrOrderTransitionDenied) {
		t.Fatalf("expected ErrOrderTransitionDenied, got %v", err)
	}
}

func TestTransitionStatusSkippingStatesDenied(t *testing.T) {
	fx := newOrderFixture(t)

	for _, role := range []domain.Role{domain.RoleSalesSupport, domain.RoleOperations, domain.RoleManager, domain.RoleAdmin} {
		_, err := fx.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
			OrderID:   "ord_1",
			Target:    domain.OrderStatusShipped,
			ActorID:   "staff",
			ActorRole: role,
		})
		if !errors.Is(err, ErrOrderTransitionDenied) {
			t.Fatalf("role %s: expected ErrOrderTransitionDenied for pending->shipped, got %v", role, err)
		}
	}
}

func TestTransitionStatusStampsTimestamps(t *testing.T) {
	fx := newOrderFixture(t)

	order := fx.orders.orders["ord_2"]
	order.Status = domain.OrderStatusProcessing
	fx.orders.orders["ord_2"] = order

	shipped, err := fx.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_2",
		Target:    domain.OrderStatusShipped,
		ActorID:   "staff_ops",
		ActorRole: domain.RoleOperations,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if shipped.ShippedAt == nil || !shipped.ShippedAt.Equal(fx.now) {
		t.Fatalf("shippedAt not stamped: %+v", shipped.ShippedAt)
	}

	delivered, err := fx.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_2",
		Target:    domain.OrderStatusDelivered,
		ActorID:   "staff_ops",
		ActorRole: domain.RoleOperations,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if delivered.DeliveredAt == nil {
		t.Fatal("deliveredAt not stamped")
	}
	if delivered.ShippedAt == nil || !delivered.ShippedAt.Equal(fx.now) {
		t.Fatal("shippedAt must survive later transitions")
	}
}

func TestTransitionStatusPublishesEvent(t *testing.T) {
	fx := newOrderFixture(t)

	if _, err := fx.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_1",
		Target:    domain.OrderStatusValidated,
		ActorID:   "staff_sales",
		ActorRole: domain.RoleSalesSupport,
		Reason:    "prescription verified",
	}); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}

	if names := fx.events.names(); len(names) != 1 || names[0] != EventOrderStatusChanged {
		t.Fatalf("unexpected events %v", names)
	}
	event := fx.events.events[0]
	if event.Payload["from"] != "pending" || event.Payload["to"] != "validated" {
		t.Fatalf("unexpected payload %+v", event.Payload)
	}
}

func TestTransitionStatusUnknownOrder(t *testing.T) {
	fx := newOrderFixture(t)

	_, err := fx.service.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:   "ord_missing",
		Target:    domain.OrderStatusValidated,
		ActorID:   "staff_sales",
		ActorRole: domain.RoleSalesSupport,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
