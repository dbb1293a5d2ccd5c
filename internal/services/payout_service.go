package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/payments"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

const defaultPayoutCurrency = "eur"

var (
	// ErrPayoutInvalidInput indicates a malformed payout request.
	ErrPayoutInvalidInput = errors.New("payout: invalid input")
	// ErrPayoutNotFound indicates the payout, partner or a work order does not exist.
	ErrPayoutNotFound = errors.New("payout: not found")
	// ErrPayoutInvalidState indicates the payout or its work orders cannot be processed as requested.
	ErrPayoutInvalidState = errors.New("payout: invalid state")
	// ErrPayoutGatewayUnavailable indicates the payment gateway is not configured or failed.
	ErrPayoutGatewayUnavailable = errors.New("payout: gateway unavailable")
)

// PayoutServiceDeps bundles collaborators for payout management.
type PayoutServiceDeps struct {
	Payouts     repositories.PayoutRepository
	Partners    repositories.PartnerRepository
	WorkOrders  repositories.WorkOrderRepository
	Records     repositories.SLARecordRepository
	Gateway     payments.Gateway
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type payoutService struct {
	payouts    repositories.PayoutRepository
	partners   repositories.PartnerRepository
	workOrders repositories.WorkOrderRepository
	records    repositories.SLARecordRepository
	gateway    payments.Gateway
	currency   string
	clock      func() time.Time
	newID      func() string
	logger     Logger
}

// NewPayoutService constructs the payout service. A nil gateway disables disbursement.
func NewPayoutService(deps PayoutServiceDeps) (PayoutService, error) {
	switch {
	case deps.Payouts == nil:
		return nil, errors.New("payout service: payout repository is required")
	case deps.Partners == nil:
		return nil, errors.New("payout service: partner repository is required")
	case deps.WorkOrders == nil:
		return nil, errors.New("payout service: work order repository is required")
	case deps.Records == nil:
		return nil, errors.New("payout service: sla record repository is required")
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultPayoutCurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &payoutService{
		payouts:    deps.Payouts,
		partners:   deps.Partners,
		workOrders: deps.WorkOrders,
		records:    deps.Records,
		gateway:    deps.Gateway,
		currency:   currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Create sums the partner's completed work orders and applies their SLA adjustments.
func (s *payoutService) Create(ctx context.Context, cmd CreatePayoutCommand) (Payout, error) {
	partnerID := strings.TrimSpace(cmd.PartnerID)
	if partnerID == "" {
		return Payout{}, fmt.Errorf("%w: partner id is required", ErrPayoutInvalidInput)
	}
	if cmd.FeesCents < 0 {
		return Payout{}, fmt.Errorf("%w: fees must be non-negative", ErrPayoutInvalidInput)
	}
	ids := dedupeIDs(cmd.WorkOrderIDs)
	if len(ids) == 0 {
		return Payout{}, fmt.Errorf("%w: at least one work order is required", ErrPayoutInvalidInput)
	}

	if _, err := s.partners.FindByID(ctx, partnerID); err != nil {
		return Payout{}, mapPayoutError(err, "partner "+partnerID)
	}

	var base int64
	for _, id := range ids {
		wo, err := s.workOrders.FindByID(ctx, id)
		if err != nil {
			return Payout{}, mapPayoutError(err, "work order "+id)
		}
		if wo.PartnerID != partnerID {
			return Payout{}, fmt.Errorf("%w: work order %s belongs to another partner", ErrPayoutInvalidState, id)
		}
		if wo.Status != domain.WorkOrderStatusCompleted {
			return Payout{}, fmt.Errorf("%w: work order %s is %s", ErrPayoutInvalidState, id, wo.Status)
		}
		base += wo.PayoutAmountCents
	}

	records, err := s.records.ListByWorkOrders(ctx, ids)
	if err != nil {
		return Payout{}, mapPayoutError(err, "sla records")
	}

	now := s.clock()
	payout := AdjustPayout(Payout{
		ID:              s.newID(),
		PartnerID:       partnerID,
		BaseAmountCents: base,
		FeesCents:       cmd.FeesCents,
		Currency:        s.currency,
		WorkOrderIDs:    ids,
		Status:          domain.PayoutStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, records)

	if err := s.payouts.Insert(ctx, payout); err != nil {
		if isRepoConflict(err) {
			return Payout{}, fmt.Errorf("%w: work orders already belong to another payout", ErrPayoutInvalidState)
		}
		return Payout{}, mapPayoutError(err, "insert payout")
	}
	s.logger(ctx, "payout.created", map[string]any{
		"payoutId":       payout.ID,
		"partnerId":      partnerID,
		"workOrders":     len(ids),
		"netAmountCents": payout.NetAmountCents,
	})
	return payout, nil
}

func (s *payoutService) Get(ctx context.Context, payoutID string) (Payout, error) {
	id := strings.TrimSpace(payoutID)
	if id == "" {
		return Payout{}, fmt.Errorf("%w: payout id is required", ErrPayoutInvalidInput)
	}
	payout, err := s.payouts.FindByID(ctx, id)
	if err != nil {
		return Payout{}, mapPayoutError(err, "payout "+id)
	}
	return payout, nil
}

// Disburse transfers the net amount to the partner's connected account. The
// payout id doubles as the idempotency key so retries never pay twice.
func (s *payoutService) Disburse(ctx context.Context, payoutID string) (Payout, error) {
	if s.gateway == nil {
		return Payout{}, fmt.Errorf("%w: no payment gateway configured", ErrPayoutGatewayUnavailable)
	}
	payout, err := s.Get(ctx, payoutID)
	if err != nil {
		return Payout{}, err
	}
	if payout.Status != domain.PayoutStatusPending || payout.TransferID != "" {
		return Payout{}, fmt.Errorf("%w: payout %s is %s", ErrPayoutInvalidState, payout.ID, payout.Status)
	}
	if payout.NetAmountCents <= 0 {
		return Payout{}, fmt.Errorf("%w: payout %s has no positive net amount", ErrPayoutInvalidState, payout.ID)
	}
	partner, err := s.partners.FindByID(ctx, payout.PartnerID)
	if err != nil {
		return Payout{}, mapPayoutError(err, "partner "+payout.PartnerID)
	}
	if strings.TrimSpace(partner.StripeAccountID) == "" {
		return Payout{}, fmt.Errorf("%w: partner %s has no connected account", ErrPayoutInvalidState, partner.ID)
	}

	transfer, err := s.gateway.CreateTransfer(ctx, payments.TransferRequest{
		PayoutID:       payout.ID,
		Destination:    partner.StripeAccountID,
		Currency:       payout.Currency,
		AmountCents:    payout.NetAmountCents,
		IdempotencyKey: "payout-" + payout.ID,
		Metadata: map[string]string{
			"partnerId":  payout.PartnerID,
			"workOrders": strconv.Itoa(len(payout.WorkOrderIDs)),
		},
	})
	if err != nil {
		s.logger(ctx, "payout.disburse.failed", map[string]any{"payoutId": payout.ID, "error": err.Error()})
		return Payout{}, fmt.Errorf("%w: %v", ErrPayoutGatewayUnavailable, err)
	}

	now := s.clock()
	payout.TransferID = transfer.ID
	payout.Status = domain.PayoutStatusPaid
	payout.PaidAt = &now
	payout.UpdatedAt = now
	if err := s.payouts.Update(ctx, payout); err != nil {
		return Payout{}, mapPayoutError(err, "update payout "+payout.ID)
	}
	s.logger(ctx, "payout.disbursed", map[string]any{"payoutId": payout.ID, "transferId": transfer.ID})
	return payout, nil
}

// HandleTransferEvent applies a gateway status notification to its payout.
func (s *payoutService) HandleTransferEvent(ctx context.Context, event TransferEvent) (Payout, error) {
	var (
		payout Payout
		err    error
	)
	switch {
	case strings.TrimSpace(event.TransferID) != "":
		payout, err = s.payouts.FindByTransferID(ctx, event.TransferID)
		if err != nil && isRepoNotFound(err) && strings.TrimSpace(event.PayoutID) != "" {
			payout, err = s.payouts.FindByID(ctx, event.PayoutID)
		}
	case strings.TrimSpace(event.PayoutID) != "":
		payout, err = s.payouts.FindByID(ctx, event.PayoutID)
	default:
		return Payout{}, fmt.Errorf("%w: transfer event carries no identifiers", ErrPayoutInvalidInput)
	}
	if err != nil {
		return Payout{}, mapPayoutError(err, "transfer "+event.TransferID)
	}

	now := s.clock()
	next := payout.Status
	switch {
	case event.Type == payments.EventTransferReversed, event.Reversed:
		next = domain.PayoutStatusReversed
	case event.Type == payments.EventTransferCreated, event.Type == payments.EventTransferUpdated:
		if payout.Status == domain.PayoutStatusPending {
			next = domain.PayoutStatusPaid
		}
	default:
		return payout, nil
	}
	if next == payout.Status && (event.TransferID == "" || payout.TransferID == event.TransferID) {
		return payout, nil
	}

	payout.Status = next
	if payout.TransferID == "" {
		payout.TransferID = event.TransferID
	}
	if next == domain.PayoutStatusPaid && payout.PaidAt == nil {
		payout.PaidAt = &now
	}
	payout.UpdatedAt = now
	if err := s.payouts.Update(ctx, payout); err != nil {
		return Payout{}, mapPayoutError(err, "update payout "+payout.ID)
	}
	s.logger(ctx, "payout.status.updated", map[string]any{
		"payoutId":   payout.ID,
		"transferId": payout.TransferID,
		"status":     string(payout.Status),
		"event":      event.Type,
	})
	return payout, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func mapPayoutError(err error, subject string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %s", ErrPayoutNotFound, subject)
	}
	return fmt.Errorf("payout %s: %w", subject, err)
}
