package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps paginated results with the next cursor token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// PartnerStatus reports whether a partner can take new work.
type PartnerStatus string

const (
	// PartnerStatusActive partners are eligible for routing.
	PartnerStatusActive PartnerStatus = "active"
	// PartnerStatusSuspended partners are excluded from routing.
	PartnerStatusSuspended PartnerStatus = "suspended"
)

// KYCStatus tracks the partner verification workflow.
type KYCStatus string

const (
	KYCStatusPending  KYCStatus = "pending"
	KYCStatusVerified KYCStatus = "verified"
	KYCStatusRejected KYCStatus = "rejected"
)

// SLALevel selects the penalty/bonus tier a partner is held to.
type SLALevel string

const (
	SLALevelBasic      SLALevel = "basic"
	SLALevelStandard   SLALevel = "standard"
	SLALevelPremium    SLALevel = "premium"
	SLALevelEnterprise SLALevel = "enterprise"
)

// Partner is a fulfillment capability provider that can be routed work orders.
type Partner struct {
	ID                  string
	Name                string
	Status              PartnerStatus
	KYCStatus           KYCStatus
	QuarantineUntil     *time.Time
	SupportedMaterials  []string
	SupportedTechniques []string
	Capabilities        []PartnerCapability
	CurrentLoad         int
	MaxVolume           int
	QualityScore        float64
	OnTimeDeliveryRate  float64
	DefectRate          float64
	ReturnRate          float64
	AverageLeadTimeDays int
	SLALevel            SLALevel
	TotalOrders         int
	CompletedOrders     int
	StripeAccountID     string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PartnerCapability describes capability-specific pricing and lead times.
// Empty Material or Technique acts as a wildcard.
type PartnerCapability struct {
	Material        string
	Technique       string
	PriceMultiplier float64
	LeadTimeDays    int
}

// Urgency controls lead time compression when quoting.
type Urgency string

const (
	UrgencyStandard Urgency = "standard"
	UrgencyExpress  Urgency = "express"
)

// RoutingCriteria carries the requirements used to match partners to an order.
type RoutingCriteria struct {
	OrderID     string
	ProductID   string
	Material    *string
	Technique   *string
	MaxPrice    *int64
	MaxLeadTime *int
	Urgency     Urgency
}

// QuoteStatus tracks whether a quote was committed by routing.
type QuoteStatus string

const (
	QuoteStatusProposed QuoteStatus = "proposed"
	QuoteStatusSelected QuoteStatus = "selected"
)

// Quote is the price and lead time a partner offers for an order.
type Quote struct {
	ID           string
	OrderID      string
	PartnerID    string
	PriceCents   int64
	LeadTimeDays int
	Breakdown    QuoteBreakdown
	Status       QuoteStatus
	CreatedAt    time.Time
}

// QuoteBreakdown itemises the inputs used to compute a quote price.
type QuoteBreakdown struct {
	BaseCostCents  int64
	LaborCostCents int64
	Multiplier     float64
	Urgency        Urgency
}

// RoutingMatch pairs a scored partner with its quote.
type RoutingMatch struct {
	Partner Partner
	Quote   Quote
	Score   float64
	Reasons []string
}

// Product holds the catalog costs used by quoting.
type Product struct {
	ID             string
	Name           string
	BaseCostCents  int64
	LaborCostCents int64
}

// Order is the minimal view of a marketplace order needed by routing.
type Order struct {
	ID        string
	BrandID   string
	ProductID string
	Status    string
	CreatedAt time.Time
}

// WorkOrderStatus tracks the production progress of a routed order.
type WorkOrderStatus string

const (
	WorkOrderStatusAssigned   WorkOrderStatus = "assigned"
	WorkOrderStatusAccepted   WorkOrderStatus = "accepted"
	WorkOrderStatusInProgress WorkOrderStatus = "in_progress"
	WorkOrderStatusQCPending  WorkOrderStatus = "qc_pending"
	WorkOrderStatusCompleted  WorkOrderStatus = "completed"
	WorkOrderStatusCancelled  WorkOrderStatus = "cancelled"
)

// OpenWorkOrderStatuses lists the statuses still subject to SLA sweeps.
var OpenWorkOrderStatuses = []WorkOrderStatus{
	WorkOrderStatusAssigned,
	WorkOrderStatusAccepted,
	WorkOrderStatusInProgress,
	WorkOrderStatusQCPending,
}

// WorkOrder is the committed assignment of an order to a partner.
type WorkOrder struct {
	ID                string
	OrderID           string
	PartnerID         string
	QuoteID           string
	RoutingScore      float64
	Status            WorkOrderStatus
	PayoutAmountCents int64
	CommissionCents   int64
	SLADeadline       *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SLARecord captures one evaluation of a work order against its deadline.
type SLARecord struct {
	WorkOrderID  string
	PartnerID    string
	Deadline     time.Time
	CompletedAt  *time.Time
	OnTime       bool
	DelayHours   int
	PenaltyCents int64
	BonusCents   int64
	Reason       string
	EvaluatedAt  time.Time
}

// FulfillmentStatus tracks the shipping lifecycle.
type FulfillmentStatus string

const (
	FulfillmentStatusPending   FulfillmentStatus = "PENDING"
	FulfillmentStatusShipped   FulfillmentStatus = "SHIPPED"
	FulfillmentStatusDelivered FulfillmentStatus = "DELIVERED"
	FulfillmentStatusCancelled FulfillmentStatus = "CANCELLED"
)

// Fulfillment is the physical shipping record for a routed order.
type Fulfillment struct {
	ID             string
	PipelineID     string
	OrderID        string
	BrandID        string
	Status         FulfillmentStatus
	Carrier        *string
	TrackingNumber *string
	TrackingURL    *string
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pipeline links a tenant's order to its production pipeline.
type Pipeline struct {
	ID        string
	BrandID   string
	OrderID   string
	CreatedAt time.Time
}

// PayoutStatus tracks disbursement of a payout through the payment gateway.
type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusPaid     PayoutStatus = "paid"
	PayoutStatusFailed   PayoutStatus = "failed"
	PayoutStatusReversed PayoutStatus = "reversed"
)

// Payout aggregates work order earnings owed to a partner.
// BaseAmountCents is the unadjusted sum; AmountCents carries SLA adjustments.
type Payout struct {
	ID              string
	PartnerID       string
	BaseAmountCents int64
	AmountCents     int64
	PenaltyCents    int64
	BonusCents      int64
	FeesCents       int64
	NetAmountCents  int64
	Currency        string
	WorkOrderIDs    []string
	Status          PayoutStatus
	TransferID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for readiness endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
