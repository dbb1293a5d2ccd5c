package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Luneo19/luneo-platform-sub030/internal/payments"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/config"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/jobs"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

// Services bundles the service-layer contracts that handlers and scheduled jobs rely upon.
type Services struct {
	Routing        services.RoutingService
	WorkOrders     services.WorkOrderService
	SLA            services.SLAService
	Fulfillments   services.FulfillmentService
	Payouts        services.PayoutService
	Reconciliation services.ReconciliationService
	System         services.SystemService
}

// Infrastructure carries the process-level collaborators built in main. Every field is optional.
type Infrastructure struct {
	Events  services.EventPublisher
	Locker  jobs.Locker
	Reports services.ReportWriter
	Gateway payments.Gateway
	Clock   func() time.Time
	// Logger returns the structured event logger for a named component.
	Logger func(component string) services.Logger
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := func(component string) services.Logger {
		if infra.Logger == nil {
			return nil
		}
		return infra.Logger(component)
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{Health: healthRepo})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	slaSvc, err := services.NewSLAService(services.SLAServiceDeps{
		WorkOrders: reg.WorkOrders(),
		Partners:   reg.Partners(),
		Records:    reg.SLARecords(),
		Payouts:    reg.Payouts(),
		UnitOfWork: reg,
		Locker:     infra.Locker,
		LockTTL:    cfg.Scheduler.LockTTL,
		Reports:    infra.Reports,
		Events:     infra.Events,
		Clock:      clock,
		Logger:     logger("sla"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build sla service: %w", err)
	}
	svc.SLA = slaSvc

	routingSvc, err := services.NewRoutingService(services.RoutingServiceDeps{
		Partners:       reg.Partners(),
		Orders:         reg.Orders(),
		Catalog:        reg.Catalog(),
		Quotes:         reg.Quotes(),
		WorkOrders:     reg.WorkOrders(),
		UnitOfWork:     reg,
		Events:         infra.Events,
		DefaultLimit:   cfg.Routing.DefaultLimit,
		CommissionRate: cfg.Routing.CommissionRate,
		Clock:          clock,
		Logger:         logger("routing"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build routing service: %w", err)
	}
	svc.Routing = routingSvc

	workOrderSvc, err := services.NewWorkOrderService(services.WorkOrderServiceDeps{
		WorkOrders: reg.WorkOrders(),
		Partners:   reg.Partners(),
		UnitOfWork: reg,
		SLA:        slaSvc,
		Events:     infra.Events,
		Clock:      clock,
		Logger:     logger("workorders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build work order service: %w", err)
	}
	svc.WorkOrders = workOrderSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Fulfillments: reg.Fulfillments(),
		Pipelines:    reg.Pipelines(),
		WorkOrders:   reg.WorkOrders(),
		SLA:          slaSvc,
		Events:       infra.Events,
		Clock:        clock,
		Logger:       logger("fulfillment"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillments = fulfillmentSvc

	payoutSvc, err := services.NewPayoutService(services.PayoutServiceDeps{
		Payouts:    reg.Payouts(),
		Partners:   reg.Partners(),
		WorkOrders: reg.WorkOrders(),
		Records:    reg.SLARecords(),
		Gateway:    infra.Gateway,
		Currency:   cfg.PSP.PayoutCurrency,
		Clock:      clock,
		Logger:     logger("payouts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payout service: %w", err)
	}
	svc.Payouts = payoutSvc

	reconcileSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Partners:   reg.Partners(),
		WorkOrders: reg.WorkOrders(),
		Locker:     infra.Locker,
		LockTTL:    cfg.Scheduler.LockTTL,
		Reports:    infra.Reports,
		Clock:      clock,
		Logger:     logger("reconciliation"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconciliation = reconcileSvc

	return svc, nil
}
