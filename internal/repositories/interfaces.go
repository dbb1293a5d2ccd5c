package repositories

import (
	"context"
	"time"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Partners() PartnerRepository
	Orders() OrderRepository
	Catalog() CatalogRepository
	Quotes() QuoteRepository
	WorkOrders() WorkOrderRepository
	SLARecords() SLARecordRepository
	Payouts() PayoutRepository
	Pipelines() PipelineRepository
	Fulfillments() FulfillmentRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Inside fn every read must precede the first write.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PartnerRepository stores fulfillment partners and their capacity and reliability counters.
type PartnerRepository interface {
	FindByID(ctx context.Context, partnerID string) (domain.Partner, error)
	// ListEligible returns active, KYC-verified partners. Quarantine is filtered by the caller.
	ListEligible(ctx context.Context) ([]domain.Partner, error)
	List(ctx context.Context) ([]domain.Partner, error)
	// IncrementLoad adjusts currentLoad atomically on the server; concurrent calls never lose updates.
	IncrementLoad(ctx context.Context, partnerID string, delta int) error
	SetLoad(ctx context.Context, partnerID string, load int) error
	// RecordDelivery folds one finalised delivery into the on-time running mean and counters.
	RecordDelivery(ctx context.Context, partnerID string, onTime bool) (domain.Partner, error)
}

// OrderRepository resolves the marketplace orders being routed.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// CatalogRepository resolves product cost data used for quoting.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
}

// QuoteRepository persists quotes committed by routing.
type QuoteRepository interface {
	Insert(ctx context.Context, quote domain.Quote) error
	FindByID(ctx context.Context, quoteID string) (domain.Quote, error)
}

// WorkOrderRepository persists work orders.
type WorkOrderRepository interface {
	Insert(ctx context.Context, workOrder domain.WorkOrder) error
	FindByID(ctx context.Context, workOrderID string) (domain.WorkOrder, error)
	UpdateStatus(ctx context.Context, workOrderID string, status domain.WorkOrderStatus, completedAt *time.Time, updatedAt time.Time) error
	ListByStatus(ctx context.Context, statuses []domain.WorkOrderStatus) ([]domain.WorkOrder, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.WorkOrder, error)
}

// SLARecordRepository upserts SLA evaluations keyed by work order id.
type SLARecordRepository interface {
	Upsert(ctx context.Context, record domain.SLARecord) error
	FindByWorkOrder(ctx context.Context, workOrderID string) (domain.SLARecord, error)
	ListByWorkOrders(ctx context.Context, workOrderIDs []string) ([]domain.SLARecord, error)
}

// PayoutRepository persists partner payouts. Insert must fail with a conflict
// RepositoryError when a work order already belongs to a payout that is not reversed.
type PayoutRepository interface {
	Insert(ctx context.Context, payout domain.Payout) error
	Update(ctx context.Context, payout domain.Payout) error
	FindByID(ctx context.Context, payoutID string) (domain.Payout, error)
	FindByTransferID(ctx context.Context, transferID string) (domain.Payout, error)
}

// PipelineRepository resolves production pipelines referenced by fulfillments.
type PipelineRepository interface {
	FindByID(ctx context.Context, pipelineID string) (domain.Pipeline, error)
}

// FulfillmentRepository persists fulfillments. Insert must fail with a conflict
// RepositoryError when the pipeline already has a fulfillment.
type FulfillmentRepository interface {
	Insert(ctx context.Context, fulfillment domain.Fulfillment) error
	Update(ctx context.Context, fulfillment domain.Fulfillment) error
	FindByID(ctx context.Context, fulfillmentID string) (domain.Fulfillment, error)
	ListByBrand(ctx context.Context, brandID string, pager domain.Pagination) (domain.CursorPage[domain.Fulfillment], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
