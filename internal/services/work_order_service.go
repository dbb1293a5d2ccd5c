package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

var (
	// ErrWorkOrderInvalidInput indicates a malformed transition request.
	ErrWorkOrderInvalidInput = errors.New("work order: invalid input")
	// ErrWorkOrderNotFound indicates the work order does not exist.
	ErrWorkOrderNotFound = errors.New("work order: not found")
	// ErrWorkOrderInvalidState indicates the requested transition is not allowed.
	ErrWorkOrderInvalidState = errors.New("work order: invalid state")
)

// workOrderRank orders the forward lifecycle; cancelled sits outside it.
var workOrderRank = map[domain.WorkOrderStatus]int{
	domain.WorkOrderStatusAssigned:   1,
	domain.WorkOrderStatusAccepted:   2,
	domain.WorkOrderStatusInProgress: 3,
	domain.WorkOrderStatusQCPending:  4,
	domain.WorkOrderStatusCompleted:  5,
}

// WorkOrderServiceDeps bundles collaborators for the work order lifecycle.
type WorkOrderServiceDeps struct {
	WorkOrders repositories.WorkOrderRepository
	Partners   repositories.PartnerRepository
	UnitOfWork repositories.UnitOfWork
	// SLA is evaluated after completion. Optional.
	SLA    SLAService
	Events EventPublisher
	Clock  func() time.Time
	Logger Logger
}

type workOrderService struct {
	workOrders repositories.WorkOrderRepository
	partners   repositories.PartnerRepository
	uow        repositories.UnitOfWork
	sla        SLAService
	events     EventPublisher
	clock      func() time.Time
	logger     Logger
}

// NewWorkOrderService constructs the work order lifecycle service.
func NewWorkOrderService(deps WorkOrderServiceDeps) (WorkOrderService, error) {
	switch {
	case deps.WorkOrders == nil:
		return nil, errors.New("work order service: work order repository is required")
	case deps.Partners == nil:
		return nil, errors.New("work order service: partner repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("work order service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &workOrderService{
		workOrders: deps.WorkOrders,
		partners:   deps.Partners,
		uow:        deps.UnitOfWork,
		sla:        deps.SLA,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *workOrderService) Get(ctx context.Context, workOrderID string) (WorkOrder, error) {
	id := strings.TrimSpace(workOrderID)
	if id == "" {
		return WorkOrder{}, fmt.Errorf("%w: work order id is required", ErrWorkOrderInvalidInput)
	}
	wo, err := s.workOrders.FindByID(ctx, id)
	if err != nil {
		return WorkOrder{}, mapWorkOrderError(err, id)
	}
	return wo, nil
}

func (s *workOrderService) Transition(ctx context.Context, workOrderID string, status WorkOrderStatus) (WorkOrder, error) {
	id := strings.TrimSpace(workOrderID)
	if id == "" {
		return WorkOrder{}, fmt.Errorf("%w: work order id is required", ErrWorkOrderInvalidInput)
	}
	if _, known := workOrderRank[status]; !known && status != domain.WorkOrderStatusCancelled {
		return WorkOrder{}, fmt.Errorf("%w: unknown status %q", ErrWorkOrderInvalidInput, status)
	}

	now := s.clock()
	var updated WorkOrder
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.workOrders.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := validateWorkOrderTransition(current.Status, status); err != nil {
			return err
		}

		var completedAt *time.Time
		if status == domain.WorkOrderStatusCompleted {
			completedAt = &now
		}
		if err := s.workOrders.UpdateStatus(ctx, id, status, completedAt, now); err != nil {
			return err
		}
		// Completed and cancelled work orders release the partner's capacity.
		if status == domain.WorkOrderStatusCompleted || status == domain.WorkOrderStatusCancelled {
			if err := s.partners.IncrementLoad(ctx, current.PartnerID, -1); err != nil {
				return err
			}
		}

		updated = current
		updated.Status = status
		updated.UpdatedAt = now
		if completedAt != nil {
			updated.CompletedAt = completedAt
		}
		return nil
	})
	if err != nil {
		return WorkOrder{}, mapWorkOrderError(err, id)
	}

	s.logger(ctx, "workorder.transitioned", map[string]any{
		"workOrderId": id,
		"status":      string(status),
	})
	if s.events != nil {
		if err := s.events.Publish(ctx, "WORK_ORDER_"+strings.ToUpper(string(status)), map[string]any{
			"workOrderId": id,
			"orderId":     updated.OrderID,
			"partnerId":   updated.PartnerID,
			"status":      string(status),
		}); err != nil {
			s.logger(ctx, "workorder.event.failed", map[string]any{"workOrderId": id, "error": err.Error()})
		}
	}

	if status == domain.WorkOrderStatusCompleted && s.sla != nil {
		if _, err := s.sla.Evaluate(ctx, id); err != nil {
			s.logger(ctx, "workorder.sla.failed", map[string]any{"workOrderId": id, "error": err.Error()})
		}
	}
	return updated, nil
}

func validateWorkOrderTransition(from, to WorkOrderStatus) error {
	if from == domain.WorkOrderStatusCompleted || from == domain.WorkOrderStatusCancelled {
		return fmt.Errorf("%w: work order is %s", ErrWorkOrderInvalidState, from)
	}
	if to == domain.WorkOrderStatusCancelled {
		return nil
	}
	if workOrderRank[to] <= workOrderRank[from] {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrWorkOrderInvalidState, from, to)
	}
	return nil
}

func mapWorkOrderError(err error, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrWorkOrderInvalidState), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %s", ErrWorkOrderNotFound, id)
	}
	return fmt.Errorf("work order %s: %w", id, err)
}
