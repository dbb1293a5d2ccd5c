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
	slaRecordsCollection = "slaRecords"
	// Firestore caps "in" filters at 30 values.
	maxInFilterValues = 30
)

type slaRecordDocument struct {
	WorkOrderID  string     `firestore:"workOrderId"`
	PartnerID    string     `firestore:"partnerId"`
	Deadline     time.Time  `firestore:"deadline"`
	CompletedAt  *time.Time `firestore:"completedAt,omitempty"`
	OnTime       bool       `firestore:"onTime"`
	DelayHours   int        `firestore:"delayHours"`
	PenaltyCents int64      `firestore:"penaltyCents"`
	BonusCents   int64      `firestore:"bonusCents"`
	Reason       string     `firestore:"reason"`
	EvaluatedAt  time.Time  `firestore:"evaluatedAt"`
}

// SLARecordRepository stores one SLA record per work order; the document id is the work order id.
type SLARecordRepository struct {
	base *pfirestore.BaseRepository[slaRecordDocument]
}

var _ repositories.SLARecordRepository = (*SLARecordRepository)(nil)

// NewSLARecordRepository constructs a Firestore-backed SLA record repository.
func NewSLARecordRepository(provider *pfirestore.Provider) (*SLARecordRepository, error) {
	if provider == nil {
		return nil, errors.New("sla record repository requires firestore provider")
	}
	return &SLARecordRepository{base: pfirestore.NewBaseRepository[slaRecordDocument](provider, slaRecordsCollection)}, nil
}

// Upsert overwrites the record for its work order.
func (r *SLARecordRepository) Upsert(ctx context.Context, record domain.SLARecord) error {
	id := strings.TrimSpace(record.WorkOrderID)
	return r.base.Set(ctx, id, slaRecordDocument{
		WorkOrderID:  id,
		PartnerID:    record.PartnerID,
		Deadline:     record.Deadline.UTC(),
		CompletedAt:  utcPtr(record.CompletedAt),
		OnTime:       record.OnTime,
		DelayHours:   record.DelayHours,
		PenaltyCents: record.PenaltyCents,
		BonusCents:   record.BonusCents,
		Reason:       record.Reason,
		EvaluatedAt:  record.EvaluatedAt.UTC(),
	})
}

// FindByWorkOrder loads the record for a work order.
func (r *SLARecordRepository) FindByWorkOrder(ctx context.Context, workOrderID string) (domain.SLARecord, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(workOrderID))
	if err != nil {
		return domain.SLARecord{}, err
	}
	return doc.toDomain(), nil
}

// ListByWorkOrders returns the records that exist for the given work orders.
func (r *SLARecordRepository) ListByWorkOrders(ctx context.Context, workOrderIDs []string) ([]domain.SLARecord, error) {
	var records []domain.SLARecord
	for start := 0; start < len(workOrderIDs); start += maxInFilterValues {
		chunk := workOrderIDs[start:min(start+maxInFilterValues, len(workOrderIDs))]
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("workOrderId", "in", chunk)
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			records = append(records, doc.toDomain())
		}
	}
	return records, nil
}

func (d slaRecordDocument) toDomain() domain.SLARecord {
	return domain.SLARecord{
		WorkOrderID:  d.WorkOrderID,
		PartnerID:    d.PartnerID,
		Deadline:     d.Deadline.UTC(),
		CompletedAt:  utcPtr(d.CompletedAt),
		OnTime:       d.OnTime,
		DelayHours:   d.DelayHours,
		PenaltyCents: d.PenaltyCents,
		BonusCents:   d.BonusCents,
		Reason:       d.Reason,
		EvaluatedAt:  d.EvaluatedAt.UTC(),
	}
}
