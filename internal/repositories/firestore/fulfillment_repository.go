package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	pfirestore "github.com/Luneo19/luneo-platform-sub030/internal/platform/firestore"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/pagination"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

const (
	fulfillmentsCollection     = "fulfillments"
	fulfillmentPipelineIndex   = "fulfillmentPipelines"
	defaultFulfillmentPageSize = 50
)

type fulfillmentDocument struct {
	ID             string     `firestore:"id"`
	PipelineID     string     `firestore:"pipelineId"`
	OrderID        string     `firestore:"orderId"`
	BrandID        string     `firestore:"brandId"`
	Status         string     `firestore:"status"`
	Carrier        *string    `firestore:"carrier,omitempty"`
	TrackingNumber *string    `firestore:"trackingNumber,omitempty"`
	TrackingURL    *string    `firestore:"trackingUrl,omitempty"`
	ShippedAt      *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time `firestore:"cancelledAt,omitempty"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

// pipelineIndexDocument reserves a pipeline for exactly one fulfillment.
type pipelineIndexDocument struct {
	FulfillmentID string    `firestore:"fulfillmentId"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

// FulfillmentRepository persists fulfillments with a one-per-pipeline guarantee.
type FulfillmentRepository struct {
	base  *pfirestore.BaseRepository[fulfillmentDocument]
	index *pfirestore.BaseRepository[pipelineIndexDocument]
	uow   *pfirestore.UnitOfWork
}

var _ repositories.FulfillmentRepository = (*FulfillmentRepository)(nil)

// NewFulfillmentRepository constructs a Firestore-backed fulfillment repository.
func NewFulfillmentRepository(provider *pfirestore.Provider) (*FulfillmentRepository, error) {
	if provider == nil {
		return nil, errors.New("fulfillment repository requires firestore provider")
	}
	return &FulfillmentRepository{
		base:  pfirestore.NewBaseRepository[fulfillmentDocument](provider, fulfillmentsCollection),
		index: pfirestore.NewBaseRepository[pipelineIndexDocument](provider, fulfillmentPipelineIndex),
		uow:   pfirestore.NewUnitOfWork(provider),
	}, nil
}

// Insert creates the fulfillment and its pipeline reservation in one transaction.
// A second fulfillment for the same pipeline fails with an AlreadyExists conflict.
func (r *FulfillmentRepository) Insert(ctx context.Context, f domain.Fulfillment) error {
	err := r.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := r.index.Create(ctx, f.PipelineID, pipelineIndexDocument{
			FulfillmentID: f.ID,
			CreatedAt:     f.CreatedAt.UTC(),
		}); err != nil {
			return err
		}
		return r.base.Create(ctx, f.ID, toFulfillmentDocument(f))
	})
	return pfirestore.WrapError("fulfillments.insert", err)
}

// Update overwrites the stored fulfillment.
func (r *FulfillmentRepository) Update(ctx context.Context, f domain.Fulfillment) error {
	return r.base.Set(ctx, f.ID, toFulfillmentDocument(f))
}

// FindByID loads a fulfillment regardless of tenant; tenant scoping is the caller's job.
func (r *FulfillmentRepository) FindByID(ctx context.Context, fulfillmentID string) (domain.Fulfillment, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(fulfillmentID))
	if err != nil {
		return domain.Fulfillment{}, err
	}
	return doc.toDomain(), nil
}

// ListByBrand pages through a tenant's fulfillments, newest first.
func (r *FulfillmentRepository) ListByBrand(ctx context.Context, brandID string, pager domain.Pagination) (domain.CursorPage[domain.Fulfillment], error) {
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = defaultFulfillmentPageSize
	}

	var (
		startAt   time.Time
		startID   string
		hasCursor bool
	)
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(brandID, token)
		if err != nil {
			return domain.CursorPage[domain.Fulfillment]{}, err
		}
		startAt, startID, err = cursor.TimeAndID()
		if err != nil {
			return domain.CursorPage[domain.Fulfillment]{}, err
		}
		hasCursor = true
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("brandId", "==", strings.TrimSpace(brandID)).
			OrderBy("createdAt", firestore.Desc).
			OrderBy("id", firestore.Desc)
		if hasCursor {
			q = q.StartAfter(startAt, startID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Fulfillment]{}, err
	}

	page := domain.CursorPage[domain.Fulfillment]{}
	if len(docs) > pageSize {
		docs = docs[:pageSize]
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(brandID, pagination.TimeCursor(last.CreatedAt, last.ID))
		if err != nil {
			return domain.CursorPage[domain.Fulfillment]{}, err
		}
		page.NextPageToken = token
	}
	page.Items = make([]domain.Fulfillment, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, doc.toDomain())
	}
	return page, nil
}

func toFulfillmentDocument(f domain.Fulfillment) fulfillmentDocument {
	return fulfillmentDocument{
		ID:             f.ID,
		PipelineID:     f.PipelineID,
		OrderID:        f.OrderID,
		BrandID:        f.BrandID,
		Status:         string(f.Status),
		Carrier:        f.Carrier,
		TrackingNumber: f.TrackingNumber,
		TrackingURL:    f.TrackingURL,
		ShippedAt:      utcPtr(f.ShippedAt),
		DeliveredAt:    utcPtr(f.DeliveredAt),
		CancelledAt:    utcPtr(f.CancelledAt),
		CreatedAt:      f.CreatedAt.UTC(),
		UpdatedAt:      f.UpdatedAt.UTC(),
	}
}

func (d fulfillmentDocument) toDomain() domain.Fulfillment {
	return domain.Fulfillment{
		ID:             d.ID,
		PipelineID:     d.PipelineID,
		OrderID:        d.OrderID,
		BrandID:        d.BrandID,
		Status:         domain.FulfillmentStatus(d.Status),
		Carrier:        d.Carrier,
		TrackingNumber: d.TrackingNumber,
		TrackingURL:    d.TrackingURL,
		ShippedAt:      utcPtr(d.ShippedAt),
		DeliveredAt:    utcPtr(d.DeliveredAt),
		CancelledAt:    utcPtr(d.CancelledAt),
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}
