package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eyeline-optics/api/internal/payments"
	"github.com/eyeline-optics/api/internal/platform/config"
	"github.com/eyeline-optics/api/internal/repositories"
	"github.com/eyeline-optics/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout services.CheckoutService
	Orders   services.OrderService
	Payments services.PaymentService
	Returns  services.ReturnService
	System   services.SystemService
}

// ContainerDeps carries externally constructed collaborators that cannot be
// derived from configuration alone.
type ContainerDeps struct {
	Registry repositories.Registry
	Gateways *payments.Manager
	Events   services.OrderEventPublisher
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Clock    func() time.Time
	Build    services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Sweeper      *services.ExpirySweeper
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and fake gateways.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, sweeper, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
		Sweeper:      sweeper,
	}, nil
}

// Close releases resources such as repository clients and background workers.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, deps ContainerDeps) (Services, *services.ExpirySweeper, error) {
	var svc Services

	reg := deps.Registry
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Catalog:       reg.Catalog(),
		Carts:         reg.Carts(),
		Addresses:     reg.Addresses(),
		Prescriptions: reg.Prescriptions(),
		Orders:        reg.Orders(),
		Events:        deps.Events,
		Clock:         clock,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: reg.Orders(),
		Events: deps.Events,
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.Gateways != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:   reg.Orders(),
			Payments: reg.Payments(),
			Gateways: deps.Gateways,
			Events:   deps.Events,
			Clock:    clock,
			Logger:   deps.Logger,
		})
		if err != nil {
			return Services{}, nil, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns:  reg.Returns(),
		Orders:   reg.Orders(),
		Counters: reg.Counters(),
		Events:   deps.Events,
		Clock:    clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Counters:         reg.Counters(),
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, nil, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	var sweeper *services.ExpirySweeper
	if cfg.Features.EnableSweeper {
		sweeper, err = services.NewExpirySweeper(services.ExpirySweeperDeps{
			Orders:   reg.Orders(),
			Events:   deps.Events,
			Clock:    clock,
			Logger:   deps.Logger,
			Interval: cfg.Sweeper.Interval,
			Timeout:  cfg.Sweeper.OrderTimeout,
		})
		if err != nil {
			return Services{}, nil, fmt.Errorf("build expiry sweeper: %w", err)
		}
	}

	return svc, sweeper, nil
}
