package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

const (
	defaultRoutingLimit   = 3
	defaultCommissionRate = 0.10
	expressLeadReduction  = 2

	// EventWorkOrderAssigned is published after a route is committed.
	EventWorkOrderAssigned = "WORK_ORDER_ASSIGNED"
)

var (
	// ErrRoutingInvalidInput indicates malformed routing criteria or quotes.
	ErrRoutingInvalidInput = errors.New("routing: invalid input")
	// ErrRoutingNotFound indicates the order, product or partner does not exist.
	ErrRoutingNotFound = errors.New("routing: not found")
	// ErrRoutingUnavailable indicates the partner store could not be reached.
	ErrRoutingUnavailable = errors.New("routing: repository unavailable")
)

// RoutingServiceDeps bundles collaborators for the routing engine.
type RoutingServiceDeps struct {
	Partners       repositories.PartnerRepository
	Orders         repositories.OrderRepository
	Catalog        repositories.CatalogRepository
	Quotes         repositories.QuoteRepository
	WorkOrders     repositories.WorkOrderRepository
	UnitOfWork     repositories.UnitOfWork
	Events         EventPublisher
	DefaultLimit   int
	CommissionRate float64
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         Logger
}

type routingService struct {
	partners       repositories.PartnerRepository
	orders         repositories.OrderRepository
	catalog        repositories.CatalogRepository
	quotes         repositories.QuoteRepository
	workOrders     repositories.WorkOrderRepository
	uow            repositories.UnitOfWork
	events         EventPublisher
	defaultLimit   int
	commissionRate float64
	clock          func() time.Time
	newID          func() string
	logger         Logger
}

// NewRoutingService constructs the routing engine.
func NewRoutingService(deps RoutingServiceDeps) (RoutingService, error) {
	switch {
	case deps.Partners == nil:
		return nil, errors.New("routing service: partner repository is required")
	case deps.Orders == nil:
		return nil, errors.New("routing service: order repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("routing service: catalog repository is required")
	case deps.Quotes == nil:
		return nil, errors.New("routing service: quote repository is required")
	case deps.WorkOrders == nil:
		return nil, errors.New("routing service: work order repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("routing service: unit of work is required")
	}

	limit := deps.DefaultLimit
	if limit <= 0 {
		limit = defaultRoutingLimit
	}
	rate := deps.CommissionRate
	if rate <= 0 || rate >= 1 {
		rate = defaultCommissionRate
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

	return &routingService{
		partners:       deps.Partners,
		orders:         deps.Orders,
		catalog:        deps.Catalog,
		quotes:         deps.Quotes,
		workOrders:     deps.WorkOrders,
		uow:            deps.UnitOfWork,
		events:         deps.Events,
		defaultLimit:   limit,
		commissionRate: rate,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *routingService) FindBestMatches(ctx context.Context, criteria RoutingCriteria, limit int) ([]RoutingMatch, error) {
	criteria.ProductID = strings.TrimSpace(criteria.ProductID)
	if criteria.ProductID == "" {
		return nil, fmt.Errorf("%w: productId is required", ErrRoutingInvalidInput)
	}
	if criteria.Urgency == "" {
		criteria.Urgency = domain.UrgencyStandard
	}
	if criteria.Urgency != domain.UrgencyStandard && criteria.Urgency != domain.UrgencyExpress {
		return nil, fmt.Errorf("%w: unsupported urgency %q", ErrRoutingInvalidInput, criteria.Urgency)
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}

	product, err := s.catalog.FindProduct(ctx, criteria.ProductID)
	if err != nil {
		return nil, s.mapRepositoryError(err, "product "+criteria.ProductID)
	}
	partners, err := s.partners.ListEligible(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err, "partners")
	}

	now := s.clock()
	matches := make([]RoutingMatch, 0, len(partners))
	for _, partner := range partners {
		if !isRoutable(partner, now) {
			continue
		}
		capability, ok := matchCapability(partner, criteria)
		if !ok {
			continue
		}
		quote := buildQuote(partner, product, capability, criteria, now)
		matches = append(matches, RoutingMatch{
			Partner: partner,
			Quote:   quote,
			Score:   Score(partner, quote, criteria),
			Reasons: Explain(partner, quote, criteria),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Partner.ID < matches[j].Partner.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *routingService) RouteOrder(ctx context.Context, cmd RouteOrderCommand) (RouteResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	partnerID := strings.TrimSpace(cmd.PartnerID)
	switch {
	case orderID == "":
		return RouteResult{}, fmt.Errorf("%w: orderId is required", ErrRoutingInvalidInput)
	case partnerID == "":
		return RouteResult{}, fmt.Errorf("%w: partnerId is required", ErrRoutingInvalidInput)
	case cmd.Quote.PriceCents < 0:
		return RouteResult{}, fmt.Errorf("%w: quote price must be non-negative", ErrRoutingInvalidInput)
	case cmd.Quote.LeadTimeDays < 1:
		return RouteResult{}, fmt.Errorf("%w: quote lead time must be at least one day", ErrRoutingInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RouteResult{}, s.mapRepositoryError(err, "order "+orderID)
	}
	partner, err := s.partners.FindByID(ctx, partnerID)
	if err != nil {
		return RouteResult{}, s.mapRepositoryError(err, "partner "+partnerID)
	}

	now := s.clock()
	urgency := cmd.Quote.Breakdown.Urgency
	if urgency == "" {
		urgency = domain.UrgencyStandard
	}
	criteria := RoutingCriteria{OrderID: order.ID, ProductID: order.ProductID, Urgency: urgency}

	quote := cmd.Quote
	quote.ID = s.newID()
	quote.OrderID = order.ID
	quote.PartnerID = partner.ID
	quote.Status = domain.QuoteStatusSelected
	quote.Breakdown.Urgency = urgency
	quote.CreatedAt = now

	commission := int64(math.Round(float64(quote.PriceCents) * s.commissionRate))
	deadline := now.Add(time.Duration(quote.LeadTimeDays) * 24 * time.Hour)
	workOrder := WorkOrder{
		ID:                s.newID(),
		OrderID:           order.ID,
		PartnerID:         partner.ID,
		QuoteID:           quote.ID,
		RoutingScore:      Score(partner, quote, criteria),
		Status:            domain.WorkOrderStatusAssigned,
		PayoutAmountCents: quote.PriceCents - commission,
		CommissionCents:   commission,
		SLADeadline:       &deadline,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.quotes.Insert(ctx, quote); err != nil {
			return err
		}
		if err := s.workOrders.Insert(ctx, workOrder); err != nil {
			return err
		}
		return s.partners.IncrementLoad(ctx, partner.ID, 1)
	})
	if err != nil {
		return RouteResult{}, s.mapRepositoryError(err, "route "+orderID)
	}

	s.logger(ctx, "routing.order.routed", map[string]any{
		"orderId":     order.ID,
		"partnerId":   partner.ID,
		"workOrderId": workOrder.ID,
		"score":       workOrder.RoutingScore,
	})
	s.publish(ctx, EventWorkOrderAssigned, map[string]any{
		"workOrderId": workOrder.ID,
		"orderId":     order.ID,
		"partnerId":   partner.ID,
		"slaDeadline": deadline,
	})
	return RouteResult{Quote: quote, WorkOrder: workOrder}, nil
}

func (s *routingService) publish(ctx context.Context, topic string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, topic, payload); err != nil {
		s.logger(ctx, "routing.event.failed", map[string]any{"topic": topic, "error": err.Error()})
	}
}

func (s *routingService) mapRepositoryError(err error, subject string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %s", ErrRoutingNotFound, subject)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
	}
	return fmt.Errorf("routing: %s: %w", subject, err)
}

// isRoutable reports whether a partner can take one more work order right now.
func isRoutable(partner Partner, now time.Time) bool {
	if partner.Status != domain.PartnerStatusActive || partner.KYCStatus != domain.KYCStatusVerified {
		return false
	}
	if partner.QuarantineUntil != nil && !partner.QuarantineUntil.Before(now) {
		return false
	}
	return partner.CurrentLoad < partner.MaxVolume
}

// matchCapability checks material and technique support and returns the most
// specific capability entry, if any, for pricing and lead time.
func matchCapability(partner Partner, criteria RoutingCriteria) (*PartnerCapability, bool) {
	fold := cases.Fold()
	want := func(v *string) string {
		if v == nil {
			return ""
		}
		return fold.String(strings.TrimSpace(*v))
	}
	material := want(criteria.Material)
	technique := want(criteria.Technique)

	if material != "" && !containsFolded(fold, partner.SupportedMaterials, material) {
		return nil, false
	}
	if technique != "" && !containsFolded(fold, partner.SupportedTechniques, technique) {
		return nil, false
	}

	var (
		best      *PartnerCapability
		bestScore = -1
	)
	for i := range partner.Capabilities {
		capability := &partner.Capabilities[i]
		capMaterial := fold.String(strings.TrimSpace(capability.Material))
		capTechnique := fold.String(strings.TrimSpace(capability.Technique))
		if capMaterial != "" && capMaterial != material {
			continue
		}
		if capTechnique != "" && capTechnique != technique {
			continue
		}
		specificity := 0
		if capMaterial != "" {
			specificity++
		}
		if capTechnique != "" {
			specificity++
		}
		if specificity > bestScore {
			best, bestScore = capability, specificity
		}
	}
	return best, true
}

func containsFolded(fold cases.Caser, values []string, target string) bool {
	for _, v := range values {
		if fold.String(strings.TrimSpace(v)) == target {
			return true
		}
	}
	return false
}

func buildQuote(partner Partner, product Product, capability *PartnerCapability, criteria RoutingCriteria, now time.Time) Quote {
	multiplier := 1.0
	leadTime := partner.AverageLeadTimeDays
	if capability != nil {
		if capability.PriceMultiplier > 0 {
			multiplier = capability.PriceMultiplier
		}
		if capability.LeadTimeDays > 0 {
			leadTime = capability.LeadTimeDays
		}
	}
	if criteria.Urgency == domain.UrgencyExpress {
		leadTime -= expressLeadReduction
	}
	leadTime = max(1, leadTime)

	price := int64(math.Round(float64(product.BaseCostCents+product.LaborCostCents) * multiplier))
	return Quote{
		OrderID:      criteria.OrderID,
		PartnerID:    partner.ID,
		PriceCents:   max(0, price),
		LeadTimeDays: leadTime,
		Breakdown: QuoteBreakdown{
			BaseCostCents:  product.BaseCostCents,
			LaborCostCents: product.LaborCostCents,
			Multiplier:     multiplier,
			Urgency:        criteria.Urgency,
		},
		Status:    domain.QuoteStatusProposed,
		CreatedAt: now,
	}
}
