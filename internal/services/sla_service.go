package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/jobs"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/storage"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

const (
	slaSweepLockKey     = "sla-sweep"
	defaultSweepLockTTL = 10 * time.Minute
	earlyBonusThreshold = 24 * time.Hour

	// EventSLAEvaluated is published for every persisted evaluation that carries an amount.
	EventSLAEvaluated = "SLA_EVALUATED"
)

var (
	// ErrSLAInvalidInput indicates a malformed evaluation request.
	ErrSLAInvalidInput = errors.New("sla: invalid input")
	// ErrSLANotFound indicates the work order, partner or payout does not exist.
	ErrSLANotFound = errors.New("sla: not found")
	// ErrSLAInvalidState indicates the record cannot be evaluated or adjusted in its current state.
	ErrSLAInvalidState = errors.New("sla: invalid state")
)

// SLATier holds the financial terms of one SLA level.
type SLATier struct {
	PenaltyRate float64
	BonusRate   float64
	MaxPenalty  float64
}

var slaTiers = map[domain.SLALevel]SLATier{
	domain.SLALevelBasic:      {PenaltyRate: 0.05, BonusRate: 0, MaxPenalty: 0.10},
	domain.SLALevelStandard:   {PenaltyRate: 0.03, BonusRate: 0.02, MaxPenalty: 0.08},
	domain.SLALevelPremium:    {PenaltyRate: 0.02, BonusRate: 0.03, MaxPenalty: 0.05},
	domain.SLALevelEnterprise: {PenaltyRate: 0.01, BonusRate: 0.05, MaxPenalty: 0.03},
}

// TierFor resolves the terms for level. Unknown levels are held to the standard tier.
func TierFor(level domain.SLALevel) SLATier {
	if tier, ok := slaTiers[level]; ok {
		return tier
	}
	return slaTiers[domain.SLALevelStandard]
}

// ReportWriter exports sweep summaries. Implemented by storage.ReportWriter.
type ReportWriter interface {
	WriteReport(ctx context.Context, kind storage.ReportKind, params storage.PathParams, report any) (string, error)
}

// SLAServiceDeps bundles collaborators for the SLA engine.
type SLAServiceDeps struct {
	WorkOrders repositories.WorkOrderRepository
	Partners   repositories.PartnerRepository
	Records    repositories.SLARecordRepository
	Payouts    repositories.PayoutRepository
	UnitOfWork repositories.UnitOfWork
	Locker     jobs.Locker
	LockTTL    time.Duration
	Reports    ReportWriter
	Events     EventPublisher
	Clock      func() time.Time
	Logger     Logger
}

type slaService struct {
	workOrders repositories.WorkOrderRepository
	partners   repositories.PartnerRepository
	records    repositories.SLARecordRepository
	payouts    repositories.PayoutRepository
	uow        repositories.UnitOfWork
	locker     jobs.Locker
	lockTTL    time.Duration
	reports    ReportWriter
	events     EventPublisher
	clock      func() time.Time
	logger     Logger
}

// NewSLAService constructs the SLA engine.
func NewSLAService(deps SLAServiceDeps) (SLAService, error) {
	switch {
	case deps.WorkOrders == nil:
		return nil, errors.New("sla service: work order repository is required")
	case deps.Partners == nil:
		return nil, errors.New("sla service: partner repository is required")
	case deps.Records == nil:
		return nil, errors.New("sla service: sla record repository is required")
	case deps.Payouts == nil:
		return nil, errors.New("sla service: payout repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("sla service: unit of work is required")
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
	return &slaService{
		workOrders: deps.WorkOrders,
		partners:   deps.Partners,
		records:    deps.Records,
		payouts:    deps.Payouts,
		uow:        deps.UnitOfWork,
		locker:     deps.Locker,
		lockTTL:    ttl,
		reports:    deps.Reports,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Evaluate computes and upserts the SLA record for a work order. The partner's
// reliability statistics are folded exactly once, when a completed work order
// is first evaluated after completion; re-evaluation only rewrites the record.
func (s *slaService) Evaluate(ctx context.Context, workOrderID string) (SLARecord, error) {
	id := strings.TrimSpace(workOrderID)
	if id == "" {
		return SLARecord{}, fmt.Errorf("%w: work order id is required", ErrSLAInvalidInput)
	}

	now := s.clock()
	var record SLARecord
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		wo, err := s.workOrders.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if wo.Status == domain.WorkOrderStatusCancelled {
			return fmt.Errorf("%w: work order %s is cancelled", ErrSLAInvalidState, id)
		}
		if wo.SLADeadline == nil {
			return fmt.Errorf("%w: work order %s has no deadline", ErrSLAInvalidState, id)
		}
		partner, err := s.partners.FindByID(ctx, wo.PartnerID)
		if err != nil {
			return err
		}
		previous, err := s.records.FindByWorkOrder(ctx, id)
		previouslyFinal := false
		switch {
		case err == nil:
			previouslyFinal = previous.CompletedAt != nil
		case !isRepoNotFound(err):
			return err
		}

		record = ComputeSLARecord(wo, TierFor(partner.SLALevel), now)

		if wo.Status == domain.WorkOrderStatusCompleted && wo.CompletedAt != nil && !previouslyFinal {
			if _, err := s.partners.RecordDelivery(ctx, partner.ID, record.OnTime); err != nil {
				return err
			}
		}
		return s.records.Upsert(ctx, record)
	})
	if err != nil {
		return SLARecord{}, mapSLAError(err, id)
	}

	if record.PenaltyCents > 0 || record.BonusCents > 0 {
		s.logger(ctx, "sla.evaluated", map[string]any{
			"workOrderId":  id,
			"penaltyCents": record.PenaltyCents,
			"bonusCents":   record.BonusCents,
			"delayHours":   record.DelayHours,
		})
		if s.events != nil {
			if err := s.events.Publish(ctx, EventSLAEvaluated, map[string]any{
				"workOrderId":  record.WorkOrderID,
				"partnerId":    record.PartnerID,
				"onTime":       record.OnTime,
				"delayHours":   record.DelayHours,
				"penaltyCents": record.PenaltyCents,
				"bonusCents":   record.BonusCents,
			}); err != nil {
				s.logger(ctx, "sla.event.failed", map[string]any{"workOrderId": id, "error": err.Error()})
			}
		}
	}
	return record, nil
}

// ComputeSLARecord evaluates wo against its deadline. Work orders still open
// past the deadline are penalised using now as the provisional completion time.
func ComputeSLARecord(wo WorkOrder, tier SLATier, now time.Time) SLARecord {
	deadline := wo.SLADeadline.UTC()
	record := SLARecord{
		WorkOrderID: wo.ID,
		PartnerID:   wo.PartnerID,
		Deadline:    deadline,
		EvaluatedAt: now,
	}
	if wo.CompletedAt != nil {
		completed := wo.CompletedAt.UTC()
		record.CompletedAt = &completed
	}

	payout := float64(wo.PayoutAmountCents)
	switch {
	case record.CompletedAt != nil && !record.CompletedAt.After(deadline):
		record.OnTime = true
		record.Reason = "completed on time"
		if early := deadline.Sub(*record.CompletedAt); early >= earlyBonusThreshold && tier.BonusRate > 0 {
			record.BonusCents = int64(math.Round(payout * tier.BonusRate))
			record.Reason = fmt.Sprintf("completed %dh early", int(early/time.Hour))
		}
	case record.CompletedAt != nil:
		record.DelayHours = int(record.CompletedAt.Sub(deadline) / time.Hour)
		record.PenaltyCents = penaltyFor(payout, tier, record.DelayHours)
		record.Reason = fmt.Sprintf("completed %dh late", record.DelayHours)
	case now.After(deadline):
		record.DelayHours = int(now.Sub(deadline) / time.Hour)
		record.PenaltyCents = penaltyFor(payout, tier, record.DelayHours)
		record.Reason = fmt.Sprintf("overdue by %dh", record.DelayHours)
	default:
		record.OnTime = true
		record.Reason = "within deadline"
	}
	return record
}

// penaltyFor grows the tier rate linearly with each day of delay, capped at the tier maximum.
func penaltyFor(payout float64, tier SLATier, delayHours int) int64 {
	rate := math.Min(tier.PenaltyRate*(1+float64(delayHours)/24), tier.MaxPenalty)
	return int64(math.Round(payout * rate))
}

func (s *slaService) EvaluateAllOpen(ctx context.Context) (SLASweepSummary, error) {
	summary := SLASweepSummary{RunID: ulid.Make().String(), StartedAt: s.clock()}
	open, err := s.workOrders.ListByStatus(ctx, domain.OpenWorkOrderStatuses)
	if err != nil {
		return summary, mapSLAError(err, "open work orders")
	}

	for _, wo := range open {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if wo.SLADeadline == nil {
			continue
		}
		record, err := s.Evaluate(ctx, wo.ID)
		if err != nil {
			summary.Failed++
			summary.FailedWorkOrderIDs = append(summary.FailedWorkOrderIDs, wo.ID)
			s.logger(ctx, "sla.sweep.item.failed", map[string]any{
				"workOrderId": wo.ID,
				"error":       err.Error(),
			})
			continue
		}
		summary.Evaluated++
		if !record.OnTime {
			summary.Overdue++
		}
		summary.PenaltyCents += record.PenaltyCents
		summary.BonusCents += record.BonusCents
	}
	summary.FinishedAt = s.clock()

	s.logger(ctx, "sla.sweep.completed", map[string]any{
		"runId":     summary.RunID,
		"evaluated": summary.Evaluated,
		"failed":    summary.Failed,
		"overdue":   summary.Overdue,
	})
	return summary, nil
}

// RunSweep is the scheduled entry point. It evaluates all open work orders
// under the sweep lock and exports a summary report when configured.
func (s *slaService) RunSweep(ctx context.Context) error {
	ran, err := jobs.RunLocked(ctx, s.locker, slaSweepLockKey, s.lockTTL, func(ctx context.Context) error {
		summary, err := s.EvaluateAllOpen(ctx)
		if err != nil {
			return err
		}
		if s.reports == nil {
			return nil
		}
		uri, err := s.reports.WriteReport(ctx, storage.ReportSLASweep, storage.PathParams{
			RunID: summary.RunID,
			Date:  summary.StartedAt,
		}, summary)
		if err != nil {
			s.logger(ctx, "sla.report.failed", map[string]any{"runId": summary.RunID, "error": err.Error()})
			return nil
		}
		s.logger(ctx, "sla.report.written", map[string]any{"runId": summary.RunID, "uri": uri})
		return nil
	})
	if err != nil {
		return err
	}
	if !ran {
		s.logger(ctx, "sla.sweep.skipped", map[string]any{"reason": "lock held by another instance"})
	}
	return nil
}

// ApplyToPayout recomputes the payout's SLA adjustments from the records of its
// work orders, so repeated calls never drift.
func (s *slaService) ApplyToPayout(ctx context.Context, payoutID string) (Payout, error) {
	id := strings.TrimSpace(payoutID)
	if id == "" {
		return Payout{}, fmt.Errorf("%w: payout id is required", ErrSLAInvalidInput)
	}
	payout, err := s.payouts.FindByID(ctx, id)
	if err != nil {
		return Payout{}, mapSLAError(err, id)
	}
	if payout.Status != domain.PayoutStatusPending {
		return Payout{}, fmt.Errorf("%w: payout %s is %s", ErrSLAInvalidState, id, payout.Status)
	}
	records, err := s.records.ListByWorkOrders(ctx, payout.WorkOrderIDs)
	if err != nil {
		return Payout{}, mapSLAError(err, id)
	}

	payout = AdjustPayout(payout, records)
	payout.UpdatedAt = s.clock()
	if err := s.payouts.Update(ctx, payout); err != nil {
		return Payout{}, mapSLAError(err, id)
	}
	s.logger(ctx, "sla.payout.adjusted", map[string]any{
		"payoutId":       id,
		"penaltyCents":   payout.PenaltyCents,
		"bonusCents":     payout.BonusCents,
		"netAmountCents": payout.NetAmountCents,
	})
	return payout, nil
}

// AdjustPayout derives amount and net from the base amount and the given records.
// Records for work orders outside the payout are ignored.
func AdjustPayout(payout Payout, records []SLARecord) Payout {
	members := make(map[string]struct{}, len(payout.WorkOrderIDs))
	for _, id := range payout.WorkOrderIDs {
		members[id] = struct{}{}
	}
	var penalties, bonuses int64
	for _, record := range records {
		if _, ok := members[record.WorkOrderID]; !ok {
			continue
		}
		penalties += record.PenaltyCents
		bonuses += record.BonusCents
	}
	payout.PenaltyCents = penalties
	payout.BonusCents = bonuses
	payout.AmountCents = payout.BaseAmountCents - penalties + bonuses
	payout.NetAmountCents = payout.AmountCents - payout.FeesCents
	return payout
}

func mapSLAError(err error, subject string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSLAInvalidState), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %s", ErrSLANotFound, subject)
	}
	return fmt.Errorf("sla %s: %w", subject, err)
}
