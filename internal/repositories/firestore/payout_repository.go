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
	payoutsCollection      = "payouts"
	payoutClaimsCollection = "payoutWorkOrders"
)

type payoutDocument struct {
	ID              string     `firestore:"id"`
	PartnerID       string     `firestore:"partnerId"`
	BaseAmountCents int64      `firestore:"baseAmountCents"`
	AmountCents     int64      `firestore:"amountCents"`
	PenaltyCents    int64      `firestore:"penaltyCents"`
	BonusCents      int64      `firestore:"bonusCents"`
	FeesCents       int64      `firestore:"feesCents"`
	NetAmountCents  int64      `firestore:"netAmountCents"`
	Currency        string     `firestore:"currency"`
	WorkOrderIDs    []string   `firestore:"workOrderIds"`
	Status          string     `firestore:"status"`
	TransferID      string     `firestore:"transferId,omitempty"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
	PaidAt          *time.Time `firestore:"paidAt,omitempty"`
}

// payoutClaimDocument binds a work order to the payout that settles it.
type payoutClaimDocument struct {
	PayoutID  string    `firestore:"payoutId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// PayoutRepository persists partner payouts. A work order is claimed by at most
// one payout that has not been reversed.
type PayoutRepository struct {
	base   *pfirestore.BaseRepository[payoutDocument]
	claims *pfirestore.BaseRepository[payoutClaimDocument]
	uow    *pfirestore.UnitOfWork
}

var _ repositories.PayoutRepository = (*PayoutRepository)(nil)

// NewPayoutRepository constructs a Firestore-backed payout repository.
func NewPayoutRepository(provider *pfirestore.Provider) (*PayoutRepository, error) {
	if provider == nil {
		return nil, errors.New("payout repository requires firestore provider")
	}
	return &PayoutRepository{
		base:   pfirestore.NewBaseRepository[payoutDocument](provider, payoutsCollection),
		claims: pfirestore.NewBaseRepository[payoutClaimDocument](provider, payoutClaimsCollection),
		uow:    pfirestore.NewUnitOfWork(provider),
	}, nil
}

// Insert stores a new payout and claims its work orders in one transaction. A
// work order already claimed by a live payout fails the insert with a conflict.
func (r *PayoutRepository) Insert(ctx context.Context, payout domain.Payout) error {
	err := r.uow.RunInTx(ctx, func(ctx context.Context) error {
		for _, workOrderID := range payout.WorkOrderIDs {
			claim, err := r.claims.Get(ctx, workOrderID)
			if pfirestore.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			holder, err := r.base.Get(ctx, claim.PayoutID)
			if pfirestore.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if domain.PayoutStatus(holder.Status) != domain.PayoutStatusReversed {
				return pfirestore.NewConflict("payouts.insert", "work order %s already belongs to payout %s", workOrderID, holder.ID)
			}
		}
		for _, workOrderID := range payout.WorkOrderIDs {
			if err := r.claims.Set(ctx, workOrderID, payoutClaimDocument{
				PayoutID:  payout.ID,
				ClaimedAt: payout.CreatedAt.UTC(),
			}); err != nil {
				return err
			}
		}
		return r.base.Create(ctx, payout.ID, toPayoutDocument(payout))
	})
	return pfirestore.WrapError("payouts.insert", err)
}

// Update overwrites the stored payout.
func (r *PayoutRepository) Update(ctx context.Context, payout domain.Payout) error {
	return r.base.Set(ctx, payout.ID, toPayoutDocument(payout))
}

// FindByID loads a payout.
func (r *PayoutRepository) FindByID(ctx context.Context, payoutID string) (domain.Payout, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(payoutID))
	if err != nil {
		return domain.Payout{}, err
	}
	return doc.toDomain(), nil
}

// FindByTransferID resolves the payout disbursed through a PSP transfer.
func (r *PayoutRepository) FindByTransferID(ctx context.Context, transferID string) (domain.Payout, error) {
	id := strings.TrimSpace(transferID)
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("transferId", "==", id).Limit(1)
	})
	if err != nil {
		return domain.Payout{}, err
	}
	if len(docs) == 0 {
		return domain.Payout{}, pfirestore.NewNotFound("payouts.findByTransfer", "payout for transfer %s not found", id)
	}
	return docs[0].toDomain(), nil
}

func toPayoutDocument(p domain.Payout) payoutDocument {
	return payoutDocument{
		ID:              p.ID,
		PartnerID:       p.PartnerID,
		BaseAmountCents: p.BaseAmountCents,
		AmountCents:     p.AmountCents,
		PenaltyCents:    p.PenaltyCents,
		BonusCents:      p.BonusCents,
		FeesCents:       p.FeesCents,
		NetAmountCents:  p.NetAmountCents,
		Currency:        p.Currency,
		WorkOrderIDs:    p.WorkOrderIDs,
		Status:          string(p.Status),
		TransferID:      p.TransferID,
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
		PaidAt:          utcPtr(p.PaidAt),
	}
}

func (d payoutDocument) toDomain() domain.Payout {
	return domain.Payout{
		ID:              d.ID,
		PartnerID:       d.PartnerID,
		BaseAmountCents: d.BaseAmountCents,
		AmountCents:     d.AmountCents,
		PenaltyCents:    d.PenaltyCents,
		BonusCents:      d.BonusCents,
		FeesCents:       d.FeesCents,
		NetAmountCents:  d.NetAmountCents,
		Currency:        d.Currency,
		WorkOrderIDs:    d.WorkOrderIDs,
		Status:          domain.PayoutStatus(d.Status),
		TransferID:      d.TransferID,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
		PaidAt:          utcPtr(d.PaidAt),
	}
}
