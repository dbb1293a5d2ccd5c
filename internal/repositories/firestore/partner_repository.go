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

const partnersCollection = "partners"

type capabilityDocument struct {
	Material        string  `firestore:"material,omitempty"`
	Technique       string  `firestore:"technique,omitempty"`
	PriceMultiplier float64 `firestore:"priceMultiplier,omitempty"`
	LeadTimeDays    int     `firestore:"leadTimeDays,omitempty"`
}

type partnerDocument struct {
	ID                  string               `firestore:"id"`
	Name                string               `firestore:"name"`
	Status              string               `firestore:"status"`
	KYCStatus           string               `firestore:"kycStatus"`
	QuarantineUntil     *time.Time           `firestore:"quarantineUntil,omitempty"`
	SupportedMaterials  []string             `firestore:"supportedMaterials"`
	SupportedTechniques []string             `firestore:"supportedTechniques"`
	Capabilities        []capabilityDocument `firestore:"capabilities,omitempty"`
	CurrentLoad         int                  `firestore:"currentLoad"`
	MaxVolume           int                  `firestore:"maxVolume"`
	QualityScore        float64              `firestore:"qualityScore"`
	OnTimeDeliveryRate  float64              `firestore:"onTimeDeliveryRate"`
	DefectRate          float64              `firestore:"defectRate"`
	ReturnRate          float64              `firestore:"returnRate"`
	AverageLeadTimeDays int                  `firestore:"averageLeadTimeDays"`
	SLALevel            string               `firestore:"slaLevel"`
	TotalOrders         int                  `firestore:"totalOrders"`
	CompletedOrders     int                  `firestore:"completedOrders"`
	StripeAccountID     string               `firestore:"stripeAccountId,omitempty"`
	CreatedAt           time.Time            `firestore:"createdAt"`
	UpdatedAt           time.Time            `firestore:"updatedAt"`
}

// PartnerRepository persists fulfillment partners in Firestore.
type PartnerRepository struct {
	base  *pfirestore.BaseRepository[partnerDocument]
	uow   *pfirestore.UnitOfWork
	clock func() time.Time
}

var _ repositories.PartnerRepository = (*PartnerRepository)(nil)

// NewPartnerRepository constructs a Firestore-backed partner repository.
func NewPartnerRepository(provider *pfirestore.Provider) (*PartnerRepository, error) {
	if provider == nil {
		return nil, errors.New("partner repository requires firestore provider")
	}
	return &PartnerRepository{
		base:  pfirestore.NewBaseRepository[partnerDocument](provider, partnersCollection),
		uow:   pfirestore.NewUnitOfWork(provider),
		clock: time.Now,
	}, nil
}

// FindByID loads a partner.
func (r *PartnerRepository) FindByID(ctx context.Context, partnerID string) (domain.Partner, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(partnerID))
	if err != nil {
		return domain.Partner{}, err
	}
	return doc.toDomain(), nil
}

// ListEligible returns active partners with verified KYC.
func (r *PartnerRepository) ListEligible(ctx context.Context) ([]domain.Partner, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.PartnerStatusActive)).
			Where("kycStatus", "==", string(domain.KYCStatusVerified))
	})
	if err != nil {
		return nil, err
	}
	return partnersToDomain(docs), nil
}

// List returns every partner.
func (r *PartnerRepository) List(ctx context.Context) ([]domain.Partner, error) {
	docs, err := r.base.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	return partnersToDomain(docs), nil
}

// IncrementLoad applies a server-side increment so concurrent routing never loses an update.
func (r *PartnerRepository) IncrementLoad(ctx context.Context, partnerID string, delta int) error {
	return r.base.Update(ctx, strings.TrimSpace(partnerID), []firestore.Update{
		{Path: "currentLoad", Value: firestore.Increment(delta)},
		{Path: "updatedAt", Value: r.clock().UTC()},
	})
}

// SetLoad overwrites currentLoad, used by reconciliation.
func (r *PartnerRepository) SetLoad(ctx context.Context, partnerID string, load int) error {
	return r.base.Update(ctx, strings.TrimSpace(partnerID), []firestore.Update{
		{Path: "currentLoad", Value: max(0, load)},
		{Path: "updatedAt", Value: r.clock().UTC()},
	})
}

// RecordDelivery updates the running on-time mean inside a transaction.
func (r *PartnerRepository) RecordDelivery(ctx context.Context, partnerID string, onTime bool) (domain.Partner, error) {
	id := strings.TrimSpace(partnerID)
	var updated domain.Partner
	err := r.uow.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.base.Get(ctx, id)
		if err != nil {
			return err
		}
		partner := doc.toDomain()
		partner.OnTimeDeliveryRate, partner.TotalOrders = domain.FoldOnTime(partner.OnTimeDeliveryRate, partner.TotalOrders, onTime)
		partner.CompletedOrders++
		partner.UpdatedAt = r.clock().UTC()

		if err := r.base.Update(ctx, id, []firestore.Update{
			{Path: "onTimeDeliveryRate", Value: partner.OnTimeDeliveryRate},
			{Path: "totalOrders", Value: partner.TotalOrders},
			{Path: "completedOrders", Value: partner.CompletedOrders},
			{Path: "updatedAt", Value: partner.UpdatedAt},
		}); err != nil {
			return err
		}
		updated = partner
		return nil
	})
	if err != nil {
		return domain.Partner{}, pfirestore.WrapError("partners.recordDelivery", err)
	}
	return updated, nil
}

func partnersToDomain(docs []partnerDocument) []domain.Partner {
	partners := make([]domain.Partner, 0, len(docs))
	for _, doc := range docs {
		partners = append(partners, doc.toDomain())
	}
	return partners
}

func (d partnerDocument) toDomain() domain.Partner {
	capabilities := make([]domain.PartnerCapability, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		capabilities = append(capabilities, domain.PartnerCapability{
			Material:        c.Material,
			Technique:       c.Technique,
			PriceMultiplier: c.PriceMultiplier,
			LeadTimeDays:    c.LeadTimeDays,
		})
	}
	return domain.Partner{
		ID:                  d.ID,
		Name:                d.Name,
		Status:              domain.PartnerStatus(d.Status),
		KYCStatus:           domain.KYCStatus(d.KYCStatus),
		QuarantineUntil:     utcPtr(d.QuarantineUntil),
		SupportedMaterials:  d.SupportedMaterials,
		SupportedTechniques: d.SupportedTechniques,
		Capabilities:        capabilities,
		CurrentLoad:         d.CurrentLoad,
		MaxVolume:           d.MaxVolume,
		QualityScore:        d.QualityScore,
		OnTimeDeliveryRate:  d.OnTimeDeliveryRate,
		DefectRate:          d.DefectRate,
		ReturnRate:          d.ReturnRate,
		AverageLeadTimeDays: d.AverageLeadTimeDays,
		SLALevel:            domain.SLALevel(d.SLALevel),
		TotalOrders:         d.TotalOrders,
		CompletedOrders:     d.CompletedOrders,
		StripeAccountID:     d.StripeAccountID,
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
