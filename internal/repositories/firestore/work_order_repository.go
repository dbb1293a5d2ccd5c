package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	pfirestore "github.com/Luneo19/luneo-platform-sub030/internal/platform/firestore"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

const (
	quotesCollection     = "quotes"
	workOrdersCollection = "workOrders"
)

type quoteDocument struct {
	ID             string    `firestore:"id"`
	OrderID        string    `firestore:"orderId"`
	PartnerID      string    `firestore:"partnerId"`
	PriceCents     int64     `firestore:"priceCents"`
	LeadTimeDays   int       `firestore:"leadTimeDays"`
	BaseCostCents  int64     `firestore:"baseCostCents"`
	LaborCostCents int64     `firestore:"laborCostCents"`
	Multiplier     float64   `firestore:"multiplier"`
	Urgency        string    `firestore:"urgency"`
	Status         string    `firestore:"status"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

type workOrderDocument struct {
	ID                string     `firestore:"id"`
	OrderID           string     `firestore:"orderId"`
	PartnerID         string     `firestore:"partnerId"`
	QuoteID           string     `firestore:"quoteId"`
	RoutingScore      float64    `firestore:"routingScore"`
	Status            string     `firestore:"status"`
	PayoutAmountCents int64      `firestore:"payoutAmountCents"`
	CommissionCents   int64      `firestore:"commissionCents"`
	SLADeadline       *time.Time `firestore:"slaDeadline,omitempty"`
	CompletedAt       *time.Time `firestore:"completedAt,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

// QuoteRepository persists committed quotes.
type QuoteRepository struct {
	base *pfirestore.BaseRepository[quoteDocument]
}

var _ repositories.QuoteRepository = (*QuoteRepository)(nil)

// NewQuoteRepository constructs a Firestore-backed quote repository.
func NewQuoteRepository(provider *pfirestore.Provider) (*QuoteRepository, error) {
	if provider == nil {
		return nil, errors.New("quote repository requires firestore provider")
	}
	return &QuoteRepository{base: pfirestore.NewBaseRepository[quoteDocument](provider, quotesCollection)}, nil
}

// Insert stores a quote; quotes are immutable so existing ids conflict.
func (r *QuoteRepository) Insert(ctx context.Context, quote domain.Quote) error {
	return r.base.Create(ctx, quote.ID, quoteDocument{
		ID:             quote.ID,
		OrderID:        quote.OrderID,
		PartnerID:      quote.PartnerID,
		PriceCents:     quote.PriceCents,
		LeadTimeDays:   quote.LeadTimeDays,
		BaseCostCents:  quote.Breakdown.BaseCostCents,
		LaborCostCents: quote.Breakdown.LaborCostCents,
		Multiplier:     quote.Breakdown.Multiplier,
		Urgency:        string(quote.Breakdown.Urgency),
		Status:         string(quote.Status),
		CreatedAt:      quote.CreatedAt.UTC(),
	})
}

// FindByID loads a quote.
func (r *QuoteRepository) FindByID(ctx context.Context, quoteID string) (domain.Quote, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(quoteID))
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		ID:           doc.ID,
		OrderID:      doc.OrderID,
		PartnerID:    doc.PartnerID,
		PriceCents:   doc.PriceCents,
		LeadTimeDays: doc.LeadTimeDays,
		Breakdown: domain.QuoteBreakdown{
			BaseCostCents:  doc.BaseCostCents,
			LaborCostCents: doc.LaborCostCents,
			Multiplier:     doc.Multiplier,
			Urgency:        domain.Urgency(doc.Urgency),
		},
		Status:    domain.QuoteStatus(doc.Status),
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}

// WorkOrderRepository persists work orders.
type WorkOrderRepository struct {
	base *pfirestore.BaseRepository[workOrderDocument]
}

var _ repositories.WorkOrderRepository = (*WorkOrderRepository)(nil)

// NewWorkOrderRepository constructs a Firestore-backed work order repository.
func NewWorkOrderRepository(provider *pfirestore.Provider) (*WorkOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("work order repository requires firestore provider")
	}
	return &WorkOrderRepository{base: pfirestore.NewBaseRepository[workOrderDocument](provider, workOrdersCollection)}, nil
}

// Insert stores a new work order.
func (r *WorkOrderRepository) Insert(ctx context.Context, wo domain.WorkOrder) error {
	return r.base.Create(ctx, wo.ID, workOrderDocument{
		ID:                wo.ID,
		OrderID:           wo.OrderID,
		PartnerID:         wo.PartnerID,
		QuoteID:           wo.QuoteID,
		RoutingScore:      wo.RoutingScore,
		Status:            string(wo.Status),
		PayoutAmountCents: wo.PayoutAmountCents,
		CommissionCents:   wo.CommissionCents,
		SLADeadline:       utcPtr(wo.SLADeadline),
		CompletedAt:       utcPtr(wo.CompletedAt),
		CreatedAt:         wo.CreatedAt.UTC(),
		UpdatedAt:         wo.UpdatedAt.UTC(),
	})
}

// FindByID loads a work order.
func (r *WorkOrderRepository) FindByID(ctx context.Context, workOrderID string) (domain.WorkOrder, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(workOrderID))
	if err != nil {
		return domain.WorkOrder{}, err
	}
	return doc.toDomain(), nil
}

// UpdateStatus writes the status and completion stamp. slaDeadline is never rewritten.
func (r *WorkOrderRepository) UpdateStatus(ctx context.Context, workOrderID string, status domain.WorkOrderStatus, completedAt *time.Time, updatedAt time.Time) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if completedAt != nil {
		updates = append(updates, firestore.Update{Path: "completedAt", Value: completedAt.UTC()})
	}
	return r.base.Update(ctx, strings.TrimSpace(workOrderID), updates)
}

// ListByStatus returns work orders whose status is one of statuses.
func (r *WorkOrderRepository) ListByStatus(ctx context.Context, statuses []domain.WorkOrderStatus) ([]domain.WorkOrder, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "in", values)
	})
	if err != nil {
		return nil, err
	}
	return workOrdersToDomain(docs), nil
}

// ListByOrder returns the work orders created for an order.
func (r *WorkOrderRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.WorkOrder, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	return workOrdersToDomain(docs), nil
}

func workOrdersToDomain(docs []workOrderDocument) []domain.WorkOrder {
	out := make([]domain.WorkOrder, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out
}

func (d workOrderDocument) toDomain() domain.WorkOrder {
	return domain.WorkOrder{
		ID:                d.ID,
		OrderID:           d.OrderID,
		PartnerID:         d.PartnerID,
		QuoteID:           d.QuoteID,
		RoutingScore:      d.RoutingScore,
		Status:            domain.WorkOrderStatus(d.Status),
		PayoutAmountCents: d.PayoutAmountCents,
		CommissionCents:   d.CommissionCents,
		SLADeadline:       utcPtr(d.SLADeadline),
		CompletedAt:       utcPtr(d.CompletedAt),
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}
