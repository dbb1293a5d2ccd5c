package services

import (
	"context"
	"time"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Partner            = domain.Partner
	PartnerCapability  = domain.PartnerCapability
	RoutingCriteria    = domain.RoutingCriteria
	RoutingMatch       = domain.RoutingMatch
	Quote              = domain.Quote
	QuoteBreakdown     = domain.QuoteBreakdown
	Product            = domain.Product
	WorkOrder          = domain.WorkOrder
	WorkOrderStatus    = domain.WorkOrderStatus
	SLARecord          = domain.SLARecord
	Fulfillment        = domain.Fulfillment
	FulfillmentStatus  = domain.FulfillmentStatus
	Payout             = domain.Payout
	SystemHealthReport = domain.SystemHealthReport
)

// Logger is the narrow structured logging hook every service accepts.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// EventPublisher emits lifecycle events onto the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// RoutingService matches orders to fulfillment partners and commits the chosen route.
type RoutingService interface {
	FindBestMatches(ctx context.Context, criteria RoutingCriteria, limit int) ([]RoutingMatch, error)
	RouteOrder(ctx context.Context, cmd RouteOrderCommand) (RouteResult, error)
}

// RouteOrderCommand selects a partner and the quote it offered for an order.
type RouteOrderCommand struct {
	OrderID   string
	PartnerID string
	Quote     Quote
}

// RouteResult carries the persisted quote and work order.
type RouteResult struct {
	Quote     Quote
	WorkOrder WorkOrder
}

// WorkOrderService drives the production lifecycle of routed work orders.
type WorkOrderService interface {
	Get(ctx context.Context, workOrderID string) (WorkOrder, error)
	Transition(ctx context.Context, workOrderID string, status WorkOrderStatus) (WorkOrder, error)
}

// SLAService evaluates deadline compliance and applies adjustments to payouts.
type SLAService interface {
	Evaluate(ctx context.Context, workOrderID string) (SLARecord, error)
	EvaluateAllOpen(ctx context.Context) (SLASweepSummary, error)
	RunSweep(ctx context.Context) error
	ApplyToPayout(ctx context.Context, payoutID string) (Payout, error)
}

// SLASweepSummary reports the outcome of one sweep across open work orders.
type SLASweepSummary struct {
	RunID              string    `json:"runId"`
	StartedAt          time.Time `json:"startedAt"`
	FinishedAt         time.Time `json:"finishedAt"`
	Evaluated          int       `json:"evaluated"`
	Failed             int       `json:"failed"`
	Overdue            int       `json:"overdue"`
	PenaltyCents       int64     `json:"penaltyCents"`
	BonusCents         int64     `json:"bonusCents"`
	FailedWorkOrderIDs []string  `json:"failedWorkOrderIds,omitempty"`
}

// FulfillmentService implements the tenant-scoped shipping state machine.
type FulfillmentService interface {
	Create(ctx context.Context, cmd CreateFulfillmentCommand) (Fulfillment, error)
	Get(ctx context.Context, fulfillmentID, tenantID string) (Fulfillment, error)
	List(ctx context.Context, tenantID string, pager Pagination) (domain.CursorPage[Fulfillment], error)
	MarkShipped(ctx context.Context, cmd ShipFulfillmentCommand) (Fulfillment, error)
	MarkDelivered(ctx context.Context, fulfillmentID, tenantID string) (Fulfillment, error)
	Cancel(ctx context.Context, fulfillmentID, tenantID string) (Fulfillment, error)
	UpdateStatus(ctx context.Context, cmd UpdateFulfillmentStatusCommand) (Fulfillment, error)
}

// CreateFulfillmentCommand opens a fulfillment for a tenant's pipeline.
type CreateFulfillmentCommand struct {
	PipelineID string
	TenantID   string
}

// ShippingDetails carries carrier-supplied tracking information.
type ShippingDetails struct {
	Carrier        *string
	TrackingNumber *string
	TrackingURL    *string
}

// ShipFulfillmentCommand marks a fulfillment as handed to the carrier.
type ShipFulfillmentCommand struct {
	FulfillmentID string
	TenantID      string
	Shipping      ShippingDetails
}

// UpdateFulfillmentStatusCommand is the generic transition entry point.
type UpdateFulfillmentStatusCommand struct {
	FulfillmentID string
	TenantID      string
	Status        FulfillmentStatus
	Shipping      ShippingDetails
}

// PayoutService builds, adjusts and disburses partner payouts.
type PayoutService interface {
	Create(ctx context.Context, cmd CreatePayoutCommand) (Payout, error)
	Get(ctx context.Context, payoutID string) (Payout, error)
	Disburse(ctx context.Context, payoutID string) (Payout, error)
	HandleTransferEvent(ctx context.Context, event TransferEvent) (Payout, error)
}

// CreatePayoutCommand aggregates completed work orders into one payout.
type CreatePayoutCommand struct {
	PartnerID    string
	WorkOrderIDs []string
	FeesCents    int64
}

// TransferEvent is a payment gateway notification about a payout transfer.
type TransferEvent struct {
	Type       string
	TransferID string
	PayoutID   string
	Reversed   bool
}

// ReconciliationService restores derived counters from source records.
type ReconciliationService interface {
	ReconcileLoads(ctx context.Context) (ReconciliationSummary, error)
	RunNightly(ctx context.Context) error
}

// ReconciliationSummary lists the partner loads corrected by one run.
type ReconciliationSummary struct {
	RunID       string           `json:"runId"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  time.Time        `json:"finishedAt"`
	Partners    int              `json:"partners"`
	Corrections []LoadCorrection `json:"corrections,omitempty"`
	Failed      int              `json:"failed"`
}

// LoadCorrection records one partner whose stored load drifted.
type LoadCorrection struct {
	PartnerID string `json:"partnerId"`
	Previous  int    `json:"previous"`
	Actual    int    `json:"actual"`
}

// SystemService exposes readiness information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
