package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
)

var routingNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func eligiblePartner(id string) domain.Partner {
	return domain.Partner{
		ID:                  id,
		Name:                id,
		Status:              domain.PartnerStatusActive,
		KYCStatus:           domain.KYCStatusVerified,
		SupportedMaterials:  []string{"Gold", "silver"},
		SupportedTechniques: []string{"engraving"},
		MaxVolume:           10,
		QualityScore:        4,
		OnTimeDeliveryRate:  0.9,
		AverageLeadTimeDays: 7,
		SLALevel:            domain.SLALevelStandard,
	}
}

func newRoutingFixture(t *testing.T) (*memoryStore, *capturePublisher, RoutingService) {
	t.Helper()
	store := newMemoryStore()
	store.products["prod-1"] = domain.Product{ID: "prod-1", BaseCostCents: 6000, LaborCostCents: 2000}
	store.orders["order-1"] = domain.Order{ID: "order-1", BrandID: "brand-1", ProductID: "prod-1"}
	events := &capturePublisher{}

	svc, err := NewRoutingService(RoutingServiceDeps{
		Partners:    store.Partners(),
		Orders:      store.Orders(),
		Catalog:     store.Catalog(),
		Quotes:      store.Quotes(),
		WorkOrders:  store.WorkOrders(),
		UnitOfWork:  store,
		Events:      events,
		Clock:       fixedClock(routingNow),
		IDGenerator: sequentialIDs("id-"),
	})
	if err != nil {
		t.Fatalf("NewRoutingService: %v", err)
	}
	return store, events, svc
}

func TestNewRoutingServiceRequiresRepositories(t *testing.T) {
	if _, err := NewRoutingService(RoutingServiceDeps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestFindBestMatchesRanksHigherScoreFirst(t *testing.T) {
	store, _, svc := newRoutingFixture(t)

	a := eligiblePartner("partner-a")
	a.QualityScore = 5
	a.OnTimeDeliveryRate = 1
	a.AverageLeadTimeDays = 5
	a.Capabilities = []domain.PartnerCapability{{Material: "gold", Technique: "engraving", PriceMultiplier: 1.25}}
	b := eligiblePartner("partner-b")
	b.QualityScore = 3
	b.OnTimeDeliveryRate = 0
	b.AverageLeadTimeDays = 10
	store.partners[a.ID] = a
	store.partners[b.ID] = b

	gold, engraving := "gold", "engraving"
	matches, err := svc.FindBestMatches(context.Background(), RoutingCriteria{
		OrderID:   "order-1",
		ProductID: "prod-1",
		Material:  &gold,
		Technique: &engraving,
	}, 0)
	if err != nil {
		t.Fatalf("FindBestMatches: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Partner.ID != "partner-a" {
		t.Fatalf("expected partner-a first, got %s", matches[0].Partner.ID)
	}
	if matches[0].Quote.PriceCents != 10000 || matches[0].Quote.LeadTimeDays != 5 {
		t.Fatalf("unexpected quote for partner-a: %+v", matches[0].Quote)
	}
	if matches[1].Quote.PriceCents != 8000 || matches[1].Quote.LeadTimeDays != 10 {
		t.Fatalf("unexpected quote for partner-b: %+v", matches[1].Quote)
	}
	if matches[0].Score <= matches[1].Score {
		t.Fatalf("expected descending scores, got %v then %v", matches[0].Score, matches[1].Score)
	}
}

func TestFindBestMatchesFiltersIneligiblePartners(t *testing.T) {
	store, _, svc := newRoutingFixture(t)

	future := routingNow.Add(time.Hour)
	past := routingNow.Add(-time.Hour)

	suspended := eligiblePartner("suspended")
	suspended.Status = domain.PartnerStatusSuspended
	unverified := eligiblePartner("unverified")
	unverified.KYCStatus = domain.KYCStatusPending
	quarantined := eligiblePartner("quarantined")
	quarantined.QuarantineUntil = &future
	released := eligiblePartner("released")
	released.QuarantineUntil = &past
	full := eligiblePartner("full")
	full.CurrentLoad = full.MaxVolume
	noGold := eligiblePartner("no-gold")
	noGold.SupportedMaterials = []string{"silver"}

	for _, p := range []domain.Partner{suspended, unverified, quarantined, released, full, noGold} {
		store.partners[p.ID] = p
	}

	gold := "GOLD"
	matches, err := svc.FindBestMatches(context.Background(), RoutingCriteria{ProductID: "prod-1", Material: &gold}, 10)
	if err != nil {
		t.Fatalf("FindBestMatches: %v", err)
	}
	if len(matches) != 1 || matches[0].Partner.ID != "released" {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.Partner.ID)
		}
		t.Fatalf("expected only released partner, got %v", ids)
	}
}

func TestFindBestMatchesBreaksTiesByPartnerID(t *testing.T) {
	store, _, svc := newRoutingFixture(t)
	for _, id := range []string{"partner-c", "partner-a", "partner-b", "partner-d"} {
		store.partners[id] = eligiblePartner(id)
	}

	matches, err := svc.FindBestMatches(context.Background(), RoutingCriteria{ProductID: "prod-1"}, 0)
	if err != nil {
		t.Fatalf("FindBestMatches: %v", err)
	}
	if len(matches) != defaultRoutingLimit {
		t.Fatalf("expected default limit %d, got %d", defaultRoutingLimit, len(matches))
	}
	for i, want := range []string{"partner-a", "partner-b", "partner-c"} {
		if matches[i].Partner.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, matches[i].Partner.ID)
		}
	}
}

func TestFindBestMatchesExpressCompressesLeadTime(t *testing.T) {
	store, _, svc := newRoutingFixture(t)
	slow := eligiblePartner("slow")
	slow.AverageLeadTimeDays = 6
	fast := eligiblePartner("fast")
	fast.AverageLeadTimeDays = 2
	store.partners[slow.ID] = slow
	store.partners[fast.ID] = fast

	matches, err := svc.FindBestMatches(context.Background(), RoutingCriteria{ProductID: "prod-1", Urgency: domain.UrgencyExpress}, 5)
	if err != nil {
		t.Fatalf("FindBestMatches: %v", err)
	}
	leads := map[string]int{}
	for _, m := range matches {
		leads[m.Partner.ID] = m.Quote.LeadTimeDays
		if m.Quote.Breakdown.Urgency != domain.UrgencyExpress {
			t.Fatalf("expected express breakdown, got %s", m.Quote.Breakdown.Urgency)
		}
	}
	if leads["slow"] != 4 {
		t.Fatalf("expected slow partner lead 4, got %d", leads["slow"])
	}
	if leads["fast"] != 1 {
		t.Fatalf("expected lead time floored at 1, got %d", leads["fast"])
	}
}

func TestFindBestMatchesPrefersSpecificCapability(t *testing.T) {
	store, _, svc := newRoutingFixture(t)
	p := eligiblePartner("partner-a")
	p.Capabilities = []domain.PartnerCapability{
		{PriceMultiplier: 1.5, LeadTimeDays: 9},
		{Material: "gold", PriceMultiplier: 2, LeadTimeDays: 3},
	}
	store.partners[p.ID] = p

	gold := "Gold"
	matches, err := svc.FindBestMatches(context.Background(), RoutingCriteria{ProductID: "prod-1", Material: &gold}, 1)
	if err != nil {
		t.Fatalf("FindBestMatches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	quote := matches[0].Quote
	if quote.PriceCents != 16000 || quote.LeadTimeDays != 3 || quote.Breakdown.Multiplier != 2 {
		t.Fatalf("expected gold capability pricing, got %+v", quote)
	}
}

func TestFindBestMatchesValidatesInput(t *testing.T) {
	_, _, svc := newRoutingFixture(t)

	if _, err := svc.FindBestMatches(context.Background(), RoutingCriteria{}, 0); !errors.Is(err, ErrRoutingInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.FindBestMatches(context.Background(), RoutingCriteria{ProductID: "prod-1", Urgency: "overnight"}, 0); !errors.Is(err, ErrRoutingInvalidInput) {
		t.Fatalf("expected invalid urgency, got %v", err)
	}
	if _, err := svc.FindBestMatches(context.Background(), RoutingCriteria{ProductID: "missing"}, 0); !errors.Is(err, ErrRoutingNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestRouteOrderCommitsQuoteWorkOrderAndLoad(t *testing.T) {
	store, events, svc := newRoutingFixture(t)
	store.partners["partner-a"] = eligiblePartner("partner-a")

	result, err := svc.RouteOrder(context.Background(), RouteOrderCommand{
		OrderID:   "order-1",
		PartnerID: "partner-a",
		Quote:     Quote{PriceCents: 10005, LeadTimeDays: 5},
	})
	if err != nil {
		t.Fatalf("RouteOrder: %v", err)
	}

	wo := result.WorkOrder
	if wo.Status != domain.WorkOrderStatusAssigned {
		t.Fatalf("expected assigned, got %s", wo.Status)
	}
	if wo.CommissionCents != 1001 || wo.PayoutAmountCents != 9004 {
		t.Fatalf("unexpected commission split: commission=%d payout=%d", wo.CommissionCents, wo.PayoutAmountCents)
	}
	if wo.SLADeadline == nil || !wo.SLADeadline.Equal(routingNow.Add(5*24*time.Hour)) {
		t.Fatalf("unexpected deadline %v", wo.SLADeadline)
	}
	if wo.QuoteID != result.Quote.ID || result.Quote.Status != domain.QuoteStatusSelected {
		t.Fatalf("expected selected quote linked to work order, got %+v", result.Quote)
	}
	if wo.RoutingScore <= 0 {
		t.Fatalf("expected re-derived routing score, got %v", wo.RoutingScore)
	}
	if _, ok := store.workOrders[wo.ID]; !ok {
		t.Fatal("expected work order persisted")
	}
	if _, ok := store.quotes[result.Quote.ID]; !ok {
		t.Fatal("expected quote persisted")
	}
	if store.partners["partner-a"].CurrentLoad != 1 {
		t.Fatalf("expected load 1, got %d", store.partners["partner-a"].CurrentLoad)
	}
	if store.txCount != 1 {
		t.Fatalf("expected one transaction, got %d", store.txCount)
	}
	if topics := events.topics(); len(topics) != 1 || topics[0] != EventWorkOrderAssigned {
		t.Fatalf("unexpected events %v", topics)
	}
}

func TestRouteOrderConcurrentCallsIncrementLoadWithoutLostUpdate(t *testing.T) {
	store, _, svc := newRoutingFixture(t)
	store.partners["partner-a"] = eligiblePartner("partner-a")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RouteOrder(context.Background(), RouteOrderCommand{
				OrderID:   "order-1",
				PartnerID: "partner-a",
				Quote:     Quote{PriceCents: 5000, LeadTimeDays: 3},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RouteOrder: %v", err)
		}
	}
	if got := store.partners["partner-a"].CurrentLoad; got != 2 {
		t.Fatalf("expected load 2, got %d", got)
	}
	if len(store.workOrders) != 2 {
		t.Fatalf("expected 2 work orders, got %d", len(store.workOrders))
	}
}

func TestRouteOrderNotFound(t *testing.T) {
	store, _, svc := newRoutingFixture(t)
	store.partners["partner-a"] = eligiblePartner("partner-a")

	_, err := svc.RouteOrder(context.Background(), RouteOrderCommand{
		OrderID:   "missing",
		PartnerID: "partner-a",
		Quote:     Quote{PriceCents: 100, LeadTimeDays: 1},
	})
	if !errors.Is(err, ErrRoutingNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}

	_, err = svc.RouteOrder(context.Background(), RouteOrderCommand{
		OrderID:   "order-1",
		PartnerID: "ghost",
		Quote:     Quote{PriceCents: 100, LeadTimeDays: 1},
	})
	if !errors.Is(err, ErrRoutingNotFound) {
		t.Fatalf("expected partner not found, got %v", err)
	}
	if len(store.workOrders) != 0 {
		t.Fatalf("expected no work orders, got %d", len(store.workOrders))
	}
}

func TestRouteOrderRejectsInvalidQuote(t *testing.T) {
	_, _, svc := newRoutingFixture(t)
	cases := []RouteOrderCommand{
		{PartnerID: "p", Quote: Quote{LeadTimeDays: 1}},
		{OrderID: "order-1", Quote: Quote{LeadTimeDays: 1}},
		{OrderID: "order-1", PartnerID: "p", Quote: Quote{PriceCents: -1, LeadTimeDays: 1}},
		{OrderID: "order-1", PartnerID: "p", Quote: Quote{PriceCents: 1, LeadTimeDays: 0}},
	}
	for i, cmd := range cases {
		if _, err := svc.RouteOrder(context.Background(), cmd); !errors.Is(err, ErrRoutingInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}
