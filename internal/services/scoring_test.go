package services

import (
	"math"
	"testing"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
)

func TestScoreComponents(t *testing.T) {
	partner := Partner{QualityScore: 5, OnTimeDeliveryRate: 1}
	quote := Quote{PriceCents: 10000, LeadTimeDays: 5}

	got := Score(partner, quote, RoutingCriteria{})
	// 40 + (1-0.1)*25 + (1-5/30)*20 + 15
	want := 94.17
	if math.Abs(got-want) > 0.001 {
		t.Fatalf("expected score %.2f, got %.2f", want, got)
	}
}

func TestScoreUsesCriteriaCeilings(t *testing.T) {
	partner := Partner{QualityScore: 0}
	quote := Quote{PriceCents: 20000, LeadTimeDays: 10}
	maxPrice := int64(10000)
	maxLead := 5

	got := Score(partner, quote, RoutingCriteria{MaxPrice: &maxPrice, MaxLeadTime: &maxLead})
	// cost 0.5*25, lead 0.5*20
	if got != 22.5 {
		t.Fatalf("expected 22.5, got %v", got)
	}

	cheap := Quote{PriceCents: 5000, LeadTimeDays: 2}
	if got := Score(partner, cheap, RoutingCriteria{MaxPrice: &maxPrice, MaxLeadTime: &maxLead}); got != 45 {
		t.Fatalf("expected capped ratios to score 45, got %v", got)
	}
}

func TestScoreReliabilityPenalisesDefectsAndReturns(t *testing.T) {
	base := Partner{OnTimeDeliveryRate: 1}
	flawed := Partner{OnTimeDeliveryRate: 1, DefectRate: 0.5, ReturnRate: 0.5}
	quote := Quote{PriceCents: 100000, LeadTimeDays: 30}

	if got := Score(base, quote, RoutingCriteria{}); got != 15 {
		t.Fatalf("expected full reliability 15, got %v", got)
	}
	if got := Score(flawed, quote, RoutingCriteria{}); got != 3.75 {
		t.Fatalf("expected reduced reliability 3.75, got %v", got)
	}
}

func TestScoreNeverExceedsBounds(t *testing.T) {
	partner := Partner{QualityScore: 9, OnTimeDeliveryRate: 3}
	free := Quote{PriceCents: 0, LeadTimeDays: 0}
	if got := Score(partner, free, RoutingCriteria{}); got != 100 {
		t.Fatalf("expected clamp to 100, got %v", got)
	}
	expensive := Quote{PriceCents: 500000, LeadTimeDays: 90}
	if got := Score(Partner{DefectRate: 2}, expensive, RoutingCriteria{}); got != 0 {
		t.Fatalf("expected floor at 0, got %v", got)
	}
}

func TestScoreRanksHigherQualityPartnerFirst(t *testing.T) {
	gold, engraving := "gold", "engraving"
	criteria := RoutingCriteria{Material: &gold, Technique: &engraving, Urgency: domain.UrgencyStandard}
	a := Partner{ID: "a", QualityScore: 5, OnTimeDeliveryRate: 1}
	b := Partner{ID: "b", QualityScore: 3}

	scoreA := Score(a, Quote{PriceCents: 10000, LeadTimeDays: 5}, criteria)
	scoreB := Score(b, Quote{PriceCents: 8000, LeadTimeDays: 10}, criteria)
	if scoreA <= scoreB {
		t.Fatalf("expected A (%v) to outrank B (%v)", scoreA, scoreB)
	}
}

func TestExplainListsReasons(t *testing.T) {
	maxPrice := int64(20000)
	maxLead := 7
	partner := Partner{QualityScore: 4.8, OnTimeDeliveryRate: 0.97, TotalOrders: 120}
	quote := Quote{PriceCents: 15000, LeadTimeDays: 5}

	reasons := Explain(partner, quote, RoutingCriteria{MaxPrice: &maxPrice, MaxLeadTime: &maxLead})
	if len(reasons) != 5 {
		t.Fatalf("expected 5 reasons, got %v", reasons)
	}
	if reasons[0] != "high quality score (4.8/5)" {
		t.Fatalf("unexpected first reason %q", reasons[0])
	}

	if got := Explain(Partner{QualityScore: 3}, quote, RoutingCriteria{}); len(got) != 0 {
		t.Fatalf("expected no reasons, got %v", got)
	}
}
