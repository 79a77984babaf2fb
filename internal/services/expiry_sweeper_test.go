package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
)

func newSweeperFixture(t *testing.T, now time.Time, orders *fakeOrders, opts ExpirySweeperDeps) (*ExpirySweeper, *fakeEvents) {
	t.Helper()
	events := &fakeEvents{}
	opts.Orders = orders
	opts.Events = events
	opts.Clock = func() time.Time { return now }
	sweeper, err := NewExpirySweeper(opts)
	if err != nil {
		t.Fatalf("NewExpirySweeper: %v", err)
	}
	return sweeper, events
}

func TestSweepExpiresStaleUnpaidOrders(t *testing.T) {
	now := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	orders := &fakeOrders{
		orders: map[string]domain.Order{
			"ord_stale": {
				ID:           "ord_stale",
				Status:       domain.OrderStatusAwaitingPayment,
				PaymentState: domain.PaymentStateUnpaid,
				CreatedAt:    now.Add(-time.Hour),
			},
			"ord_stale_2": {
				ID:           "ord_stale_2",
				Status:       domain.OrderStatusAwaitingPayment,
				PaymentState: domain.PaymentStateUnpaid,
				CreatedAt:    now.Add(-31 * time.Minute),
			},
		},
	}
	sweeper, events := newSweeperFixture(t, now, orders, ExpirySweeperDeps{})

	sweeper.Sweep(context.Background())

	for _, id := range []string{"ord_stale", "ord_stale_2"} {
		if status := orders.orders[id].Status; status != domain.OrderStatusDeleted {
			t.Fatalf("order %s status = %s, want deleted", id, status)
		}
	}
	names := events.names()
	if len(names) != 2 {
		t.Fatalf("expected one event per expired order, got %v", names)
	}
	for _, name := range names {
		if name != EventOrderExpired {
			t.Fatalf("unexpected event %q", name)
		}
	}
}

func TestSweepKeepsRecentAndPaidOrders(t *testing.T) {
	now := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	orders := &fakeOrders{
		orders: map[string]domain.Order{
			// Inside the payment window by a hair.
			"ord_fresh": {
				ID:           "ord_fresh",
				Status:       domain.OrderStatusAwaitingPayment,
				PaymentState: domain.PaymentStateUnpaid,
				CreatedAt:    now.Add(-30*time.Minute + time.Second),
			},
			// Old but already paid.
			"ord_paid": {
				ID:           "ord_paid",
				Status:       domain.OrderStatusPending,
				PaymentState: domain.PaymentStatePaid,
				CreatedAt:    now.Add(-2 * time.Hour),
			},
		},
	}
	sweeper, events := newSweeperFixture(t, now, orders, ExpirySweeperDeps{})

	sweeper.Sweep(context.Background())

	if status := orders.orders["ord_fresh"].Status; status != domain.OrderStatusAwaitingPayment {
		t.Fatalf("fresh order status = %s, must survive", status)
	}
	if status := orders.orders["ord_paid"].Status; status != domain.OrderStatusPending {
		t.Fatalf("paid order status = %s, must survive", status)
	}
	if names := events.names(); len(names) != 0 {
		t.Fatalf("no events expected, got %v", names)
	}
}

func TestSweepCustomTimeout(t *testing.T) {
	now := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	orders := &fakeOrders{
		orders: map[string]domain.Order{
			"ord_1": {
				ID:           "ord_1",
				Status:       domain.OrderStatusAwaitingPayment,
				PaymentState: domain.PaymentStateUnpaid,
				CreatedAt:    now.Add(-10 * time.Minute),
			},
		},
	}
	sweeper, _ := newSweeperFixture(t, now, orders, ExpirySweeperDeps{Timeout: 5 * time.Minute})

	sweeper.Sweep(context.Background())

	if status := orders.orders["ord_1"].Status; status != domain.OrderStatusDeleted {
		t.Fatalf("order status = %s, want deleted under the shorter timeout", status)
	}
}

func TestRunSweepsAndStopsOnCancel(t *testing.T) {
	now := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	orders := &fakeOrders{
		orders: map[string]domain.Order{
			"ord_stale": {
				ID:           "ord_stale",
				Status:       domain.OrderStatusAwaitingPayment,
				PaymentState: domain.PaymentStateUnpaid,
				CreatedAt:    now.Add(-time.Hour),
			},
		},
	}
	sweeper, events := newSweeperFixture(t, now, orders, ExpirySweeperDeps{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sweeper.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for len(events.names()) == 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
