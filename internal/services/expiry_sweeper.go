package services

import (
	"context"
	"errors"
	"time"

	"github.com/eyeline-optics/api/internal/repositories"
)

const (
	defaultSweepInterval = time.Minute
	defaultOrderTimeout  = 30 * time.Minute
)

// ExpirySweeperDeps wires the dependencies required by the expiry sweeper.
type ExpirySweeperDeps struct {
	Orders repositories.OrderRepository
	Events OrderEventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)

	// Interval between sweeps. Defaults to one minute.
	Interval time.Duration
	// Timeout is how long an unpaid order may sit in awaiting-payment before
	// it is expired. Defaults to thirty minutes.
	Timeout time.Duration
}

// ExpirySweeper periodically deletes unpaid orders that outlived the payment
// window. The repository re-checks the unpaid predicate inside each per-order
// update, so an order paid mid-sweep survives.
type ExpirySweeper struct {
	orders   repositories.OrderRepository
	events   OrderEventPublisher
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	interval time.Duration
	timeout  time.Duration
}

// NewExpirySweeper constructs an ExpirySweeper validating required dependencies.
func NewExpirySweeper(deps ExpirySweeperDeps) (*ExpirySweeper, error) {
	if deps.Orders == nil {
		return nil, errors.New("expiry sweeper: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultOrderTimeout
	}

	return &ExpirySweeper{
		orders: deps.Orders,
		events: deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}, nil
}

// Run sweeps on a fixed interval until the context is cancelled. Sweep errors
// are logged and never stop the loop.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every unpaid awaiting-payment order older than the timeout
// and publishes an expiry event per order.
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	now := s.now()
	cutoff := now.Add(-s.timeout)

	expired, err := s.orders.ExpireStaleOrders(ctx, cutoff, now)
	if err != nil {
		s.logger(ctx, "sweeper.run_failed", map[string]any{
			"cutoff": cutoff.Format(time.RFC3339),
			"error":  err.Error(),
		})
	}
	if len(expired) == 0 {
		return
	}

	s.logger(ctx, "sweeper.orders_expired", map[string]any{
		"count":  len(expired),
		"cutoff": cutoff.Format(time.RFC3339),
	})
	for _, orderID := range expired {
		s.publishEvent(ctx, OrderEvent{
			Name:       EventOrderExpired,
			OrderID:    orderID,
			OccurredAt: now,
			Payload:    map[string]any{"cutoff": cutoff.Format(time.RFC3339)},
		})
	}
}

func (s *ExpirySweeper) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "sweeper.event_publish_failed", map[string]any{
			"event":   event.Name,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}
