package services

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/jobs"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/storage"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

const reconcileLockKey = "reconcile-loads"

// ReconciliationServiceDeps bundles collaborators for nightly reconciliation.
type ReconciliationServiceDeps struct {
	Partners   repositories.PartnerRepository
	WorkOrders repositories.WorkOrderRepository
	Locker     jobs.Locker
	LockTTL    time.Duration
	Reports    ReportWriter
	Clock      func() time.Time
	Logger     Logger
}

type reconciliationService struct {
	partners   repositories.PartnerRepository
	workOrders repositories.WorkOrderRepository
	locker     jobs.Locker
	lockTTL    time.Duration
	reports    ReportWriter
	clock      func() time.Time
	logger     Logger
}

// NewReconciliationService constructs the nightly load reconciliation job.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Partners == nil {
		return nil, errors.New("reconciliation service: partner repository is required")
	}
	if deps.WorkOrders == nil {
		return nil, errors.New("reconciliation service: work order repository is required")
	}
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = defaultSweepLockTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &reconciliationService{
		partners:   deps.Partners,
		workOrders: deps.WorkOrders,
		locker:     deps.Locker,
		lockTTL:    ttl,
		reports:    deps.Reports,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ReconcileLoads resets each partner's currentLoad to its number of open work orders.
func (s *reconciliationService) ReconcileLoads(ctx context.Context) (ReconciliationSummary, error) {
	summary := ReconciliationSummary{RunID: ulid.Make().String(), StartedAt: s.clock()}

	open, err := s.workOrders.ListByStatus(ctx, domain.OpenWorkOrderStatuses)
	if err != nil {
		return summary, err
	}
	actual := make(map[string]int)
	for _, wo := range open {
		actual[wo.PartnerID]++
	}

	partners, err := s.partners.List(ctx)
	if err != nil {
		return summary, err
	}
	summary.Partners = len(partners)
	for _, partner := range partners {
		want := actual[partner.ID]
		if partner.CurrentLoad == want {
			continue
		}
		if err := s.partners.SetLoad(ctx, partner.ID, want); err != nil {
			summary.Failed++
			s.logger(ctx, "reconcile.partner.failed", map[string]any{"partnerId": partner.ID, "error": err.Error()})
			continue
		}
		summary.Corrections = append(summary.Corrections, LoadCorrection{
			PartnerID: partner.ID,
			Previous:  partner.CurrentLoad,
			Actual:    want,
		})
	}
	summary.FinishedAt = s.clock()

	s.logger(ctx, "reconcile.completed", map[string]any{
		"runId":       summary.RunID,
		"partners":    summary.Partners,
		"corrections": len(summary.Corrections),
		"failed":      summary.Failed,
	})
	return summary, nil
}

// RunNightly is the scheduled entry point guarded by the reconciliation lock.
func (s *reconciliationService) RunNightly(ctx context.Context) error {
	ran, err := jobs.RunLocked(ctx, s.locker, reconcileLockKey, s.lockTTL, func(ctx context.Context) error {
		summary, err := s.ReconcileLoads(ctx)
		if err != nil {
			return err
		}
		if s.reports == nil {
			return nil
		}
		if _, err := s.reports.WriteReport(ctx, storage.ReportReconciliation, storage.PathParams{
			RunID: summary.RunID,
			Date:  summary.StartedAt,
		}, summary); err != nil {
			s.logger(ctx, "reconcile.report.failed", map[string]any{"runId": summary.RunID, "error": err.Error()})
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !ran {
		s.logger(ctx, "reconcile.skipped", map[string]any{"reason": "lock held by another instance"})
	}
	return nil
}
