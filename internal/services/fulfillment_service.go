package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/pagination"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

// Fulfillment lifecycle events.
const (
	EventFulfillmentCreated   = "FULFILLMENT_CREATED"
	EventFulfillmentShipped   = "FULFILLMENT_SHIPPED"
	EventFulfillmentDelivered = "FULFILLMENT_DELIVERED"

	maxShippingFieldLength = 256
)

var (
	// ErrFulfillmentInvalidInput indicates malformed identifiers or shipping details.
	ErrFulfillmentInvalidInput = errors.New("fulfillment: invalid input")
	// ErrFulfillmentNotFound indicates the fulfillment does not exist for the tenant.
	ErrFulfillmentNotFound = errors.New("fulfillment: not found")
	// ErrFulfillmentInvalidState indicates a duplicate fulfillment or a disallowed transition.
	ErrFulfillmentInvalidState = errors.New("fulfillment: invalid state")
	// ErrFulfillmentNotCancellable indicates the fulfillment already left the carrier's hands.
	ErrFulfillmentNotCancellable = errors.New("fulfillment: not cancellable")
)

// FulfillmentServiceDeps bundles collaborators for the fulfillment state machine.
type FulfillmentServiceDeps struct {
	Fulfillments repositories.FulfillmentRepository
	Pipelines    repositories.PipelineRepository
	// WorkOrders and SLA drive the post-delivery SLA evaluation. Both optional.
	WorkOrders  repositories.WorkOrderRepository
	SLA         SLAService
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type fulfillmentService struct {
	fulfillments repositories.FulfillmentRepository
	pipelines    repositories.PipelineRepository
	workOrders   repositories.WorkOrderRepository
	sla          SLAService
	events       EventPublisher
	policy       *bluemonday.Policy
	clock        func() time.Time
	newID        func() string
	logger       Logger
}

// NewFulfillmentService constructs the fulfillment state machine.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Fulfillments == nil {
		return nil, errors.New("fulfillment service: fulfillment repository is required")
	}
	if deps.Pipelines == nil {
		return nil, errors.New("fulfillment service: pipeline repository is required")
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
	return &fulfillmentService{
		fulfillments: deps.Fulfillments,
		pipelines:    deps.Pipelines,
		workOrders:   deps.WorkOrders,
		sla:          deps.SLA,
		events:       deps.Events,
		policy:       bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *fulfillmentService) Create(ctx context.Context, cmd CreateFulfillmentCommand) (Fulfillment, error) {
	pipelineID := strings.TrimSpace(cmd.PipelineID)
	tenantID := strings.TrimSpace(cmd.TenantID)
	if pipelineID == "" || tenantID == "" {
		return Fulfillment{}, fmt.Errorf("%w: pipeline id and tenant id are required", ErrFulfillmentInvalidInput)
	}

	// Missing and foreign pipelines are reported identically.
	pipeline, err := s.pipelines.FindByID(ctx, pipelineID)
	switch {
	case err != nil && isRepoNotFound(err):
		return Fulfillment{}, fmt.Errorf("%w: pipeline %s is not available to tenant", ErrFulfillmentInvalidInput, pipelineID)
	case err != nil:
		return Fulfillment{}, fmt.Errorf("fulfillment: load pipeline: %w", err)
	case pipeline.BrandID != tenantID:
		return Fulfillment{}, fmt.Errorf("%w: pipeline %s is not available to tenant", ErrFulfillmentInvalidInput, pipelineID)
	}

	now := s.clock()
	fulfillment := Fulfillment{
		ID:         s.newID(),
		PipelineID: pipeline.ID,
		OrderID:    pipeline.OrderID,
		BrandID:    tenantID,
		Status:     domain.FulfillmentStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.fulfillments.Insert(ctx, fulfillment); err != nil {
		if isRepoConflict(err) {
			return Fulfillment{}, fmt.Errorf("%w: fulfillment already exists for pipeline %s", ErrFulfillmentInvalidState, pipelineID)
		}
		return Fulfillment{}, fmt.Errorf("fulfillment: insert: %w", err)
	}

	s.emit(ctx, EventFulfillmentCreated, fulfillment)
	return fulfillment, nil
}

func (s *fulfillmentService) Get(ctx context.Context, fulfillmentID, tenantID string) (Fulfillment, error) {
	return s.load(ctx, fulfillmentID, tenantID)
}

func (s *fulfillmentService) List(ctx context.Context, tenantID string, pager Pagination) (domain.CursorPage[Fulfillment], error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.CursorPage[Fulfillment]{}, fmt.Errorf("%w: tenant id is required", ErrFulfillmentInvalidInput)
	}
	page, err := s.fulfillments.ListByBrand(ctx, tenantID, pager)
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return domain.CursorPage[Fulfillment]{}, fmt.Errorf("%w: %v", ErrFulfillmentInvalidInput, err)
	}
	if err != nil {
		return domain.CursorPage[Fulfillment]{}, fmt.Errorf("fulfillment: list: %w", err)
	}
	return page, nil
}

func (s *fulfillmentService) MarkShipped(ctx context.Context, cmd ShipFulfillmentCommand) (Fulfillment, error) {
	shipping, err := s.sanitizeShipping(cmd.Shipping)
	if err != nil {
		return Fulfillment{}, err
	}
	fulfillment, err := s.load(ctx, cmd.FulfillmentID, cmd.TenantID)
	if err != nil {
		return Fulfillment{}, err
	}
	if fulfillment.Status != domain.FulfillmentStatusPending {
		return Fulfillment{}, fmt.Errorf("%w: cannot ship a %s fulfillment", ErrFulfillmentInvalidState, fulfillment.Status)
	}

	now := s.clock()
	fulfillment.Status = domain.FulfillmentStatusShipped
	fulfillment.Carrier = shipping.Carrier
	fulfillment.TrackingNumber = shipping.TrackingNumber
	fulfillment.TrackingURL = shipping.TrackingURL
	fulfillment.ShippedAt = &now
	fulfillment.UpdatedAt = now
	if err := s.fulfillments.Update(ctx, fulfillment); err != nil {
		return Fulfillment{}, fmt.Errorf("fulfillment: update: %w", err)
	}

	s.emit(ctx, EventFulfillmentShipped, fulfillment)
	return fulfillment, nil
}

// MarkDelivered accepts shipped fulfillments only.
func (s *fulfillmentService) MarkDelivered(ctx context.Context, fulfillmentID, tenantID string) (Fulfillment, error) {
	fulfillment, err := s.load(ctx, fulfillmentID, tenantID)
	if err != nil {
		return Fulfillment{}, err
	}
	if fulfillment.Status != domain.FulfillmentStatusShipped {
		return Fulfillment{}, fmt.Errorf("%w: cannot deliver a %s fulfillment", ErrFulfillmentInvalidState, fulfillment.Status)
	}

	now := s.clock()
	fulfillment.Status = domain.FulfillmentStatusDelivered
	fulfillment.DeliveredAt = &now
	fulfillment.UpdatedAt = now
	if err := s.fulfillments.Update(ctx, fulfillment); err != nil {
		return Fulfillment{}, fmt.Errorf("fulfillment: update: %w", err)
	}

	s.emit(ctx, EventFulfillmentDelivered, fulfillment)
	s.evaluateOrderSLA(ctx, fulfillment.OrderID)
	return fulfillment, nil
}

func (s *fulfillmentService) Cancel(ctx context.Context, fulfillmentID, tenantID string) (Fulfillment, error) {
	fulfillment, err := s.load(ctx, fulfillmentID, tenantID)
	if err != nil {
		return Fulfillment{}, err
	}
	if fulfillment.Status != domain.FulfillmentStatusPending {
		return Fulfillment{}, fmt.Errorf("%w: fulfillment is %s", ErrFulfillmentNotCancellable, fulfillment.Status)
	}

	now := s.clock()
	fulfillment.Status = domain.FulfillmentStatusCancelled
	fulfillment.CancelledAt = &now
	fulfillment.UpdatedAt = now
	if err := s.fulfillments.Update(ctx, fulfillment); err != nil {
		return Fulfillment{}, fmt.Errorf("fulfillment: update: %w", err)
	}
	s.logger(ctx, "fulfillment.cancelled", map[string]any{"fulfillmentId": fulfillment.ID})
	return fulfillment, nil
}

func (s *fulfillmentService) UpdateStatus(ctx context.Context, cmd UpdateFulfillmentStatusCommand) (Fulfillment, error) {
	switch cmd.Status {
	case domain.FulfillmentStatusShipped:
		return s.MarkShipped(ctx, ShipFulfillmentCommand{
			FulfillmentID: cmd.FulfillmentID,
			TenantID:      cmd.TenantID,
			Shipping:      cmd.Shipping,
		})
	case domain.FulfillmentStatusDelivered:
		return s.MarkDelivered(ctx, cmd.FulfillmentID, cmd.TenantID)
	case domain.FulfillmentStatusCancelled:
		return s.Cancel(ctx, cmd.FulfillmentID, cmd.TenantID)
	case domain.FulfillmentStatusPending:
		return Fulfillment{}, fmt.Errorf("%w: fulfillments cannot return to %s", ErrFulfillmentInvalidState, cmd.Status)
	}
	return Fulfillment{}, fmt.Errorf("%w: unknown status %q", ErrFulfillmentInvalidInput, cmd.Status)
}

// load resolves a fulfillment for a tenant. Other tenants' fulfillments are reported as missing.
func (s *fulfillmentService) load(ctx context.Context, fulfillmentID, tenantID string) (Fulfillment, error) {
	id := strings.TrimSpace(fulfillmentID)
	tenantID = strings.TrimSpace(tenantID)
	if id == "" || tenantID == "" {
		return Fulfillment{}, fmt.Errorf("%w: fulfillment id and tenant id are required", ErrFulfillmentInvalidInput)
	}
	fulfillment, err := s.fulfillments.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Fulfillment{}, fmt.Errorf("%w: %s", ErrFulfillmentNotFound, id)
		}
		return Fulfillment{}, fmt.Errorf("fulfillment: load: %w", err)
	}
	if fulfillment.BrandID != tenantID {
		return Fulfillment{}, fmt.Errorf("%w: %s", ErrFulfillmentNotFound, id)
	}
	return fulfillment, nil
}

func (s *fulfillmentService) sanitizeShipping(in ShippingDetails) (ShippingDetails, error) {
	var out ShippingDetails
	var err error
	if out.Carrier, err = s.sanitizeText("carrier", in.Carrier); err != nil {
		return ShippingDetails{}, err
	}
	if out.TrackingNumber, err = s.sanitizeText("trackingNumber", in.TrackingNumber); err != nil {
		return ShippingDetails{}, err
	}
	if in.TrackingURL != nil {
		raw := strings.TrimSpace(*in.TrackingURL)
		if raw != "" {
			parsed, err := url.Parse(raw)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				return ShippingDetails{}, fmt.Errorf("%w: trackingUrl must be an absolute http(s) URL", ErrFulfillmentInvalidInput)
			}
			value := parsed.String()
			out.TrackingURL = &value
		}
	}
	return out, nil
}

const maxUnescapePasses = 4

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// sanitizeText strips markup from carrier-supplied text. Entities are decoded
// before sanitising so encoded markup is stripped like literal markup.
func (s *fulfillmentService) sanitizeText(field string, value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	raw := *value
	for i := 0; i < maxUnescapePasses; i++ {
		decoded := html.UnescapeString(raw)
		if decoded == raw {
			break
		}
		raw = decoded
	}
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.TrimSpace(angleBrackets.Replace(cleaned))
	if cleaned == "" {
		return nil, nil
	}
	if len(cleaned) > maxShippingFieldLength {
		return nil, fmt.Errorf("%w: %s exceeds %d characters", ErrFulfillmentInvalidInput, field, maxShippingFieldLength)
	}
	return &cleaned, nil
}

func (s *fulfillmentService) emit(ctx context.Context, event string, f Fulfillment) {
	s.logger(ctx, "fulfillment."+strings.ToLower(string(f.Status)), map[string]any{
		"fulfillmentId": f.ID,
		"pipelineId":    f.PipelineID,
		"brandId":       f.BrandID,
	})
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"fulfillmentId": f.ID,
		"pipelineId":    f.PipelineID,
		"orderId":       f.OrderID,
		"brandId":       f.BrandID,
		"status":        string(f.Status),
	}
	if f.Carrier != nil {
		payload["carrier"] = *f.Carrier
	}
	if f.TrackingNumber != nil {
		payload["trackingNumber"] = *f.TrackingNumber
	}
	if f.TrackingURL != nil {
		payload["trackingUrl"] = *f.TrackingURL
	}
	if err := s.events.Publish(ctx, event, payload); err != nil {
		s.logger(ctx, "fulfillment.event.failed", map[string]any{"fulfillmentId": f.ID, "event": event, "error": err.Error()})
	}
}

// evaluateOrderSLA re-evaluates every live work order of a delivered order.
// Failures are logged; delivery has already been recorded.
func (s *fulfillmentService) evaluateOrderSLA(ctx context.Context, orderID string) {
	if s.sla == nil || s.workOrders == nil || orderID == "" {
		return
	}
	workOrders, err := s.workOrders.ListByOrder(ctx, orderID)
	if err != nil {
		s.logger(ctx, "fulfillment.sla.failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return
	}
	for _, wo := range workOrders {
		if wo.Status == domain.WorkOrderStatusCancelled || wo.SLADeadline == nil {
			continue
		}
		if _, err := s.sla.Evaluate(ctx, wo.ID); err != nil {
			s.logger(ctx, "fulfillment.sla.failed", map[string]any{"orderId": orderID, "workOrderId": wo.ID, "error": err.Error()})
		}
	}
}
