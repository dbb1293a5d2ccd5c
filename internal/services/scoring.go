package services

import (
	"fmt"
	"math"
)

const (
	qualityWeight     = 40.0
	costWeight        = 25.0
	leadTimeWeight    = 20.0
	reliabilityWeight = 15.0

	// Reference ceilings applied when the criteria leave price or lead time open.
	referencePriceCents   = 100000.0
	referenceLeadTimeDays = 30.0

	maxQualityScore = 5.0
)

// Score ranks a partner's quote against the routing criteria on a 0-100 scale.
// It is pure: identical inputs always produce the same value.
func Score(partner Partner, quote Quote, criteria RoutingCriteria) float64 {
	quality := clamp01(partner.QualityScore/maxQualityScore) * qualityWeight

	var cost float64
	if criteria.MaxPrice != nil {
		cost = ceilingRatio(float64(*criteria.MaxPrice), float64(quote.PriceCents)) * costWeight
	} else {
		cost = math.Max(0, 1-float64(quote.PriceCents)/referencePriceCents) * costWeight
	}

	var lead float64
	if criteria.MaxLeadTime != nil {
		lead = ceilingRatio(float64(*criteria.MaxLeadTime), float64(quote.LeadTimeDays)) * leadTimeWeight
	} else {
		lead = math.Max(0, 1-float64(quote.LeadTimeDays)/referenceLeadTimeDays) * leadTimeWeight
	}

	reliability := clamp01(partner.OnTimeDeliveryRate) *
		(1 - clamp01(partner.DefectRate)) *
		(1 - clamp01(partner.ReturnRate)) *
		reliabilityWeight

	total := quality + cost + lead + reliability
	return math.Min(100, math.Max(0, math.Round(total*100)/100))
}

// Explain lists the human-readable reasons behind a score. It does not affect ranking.
func Explain(partner Partner, quote Quote, criteria RoutingCriteria) []string {
	var reasons []string
	if partner.QualityScore >= 4.5 {
		reasons = append(reasons, fmt.Sprintf("high quality score (%.1f/5)", partner.QualityScore))
	}
	if partner.OnTimeDeliveryRate >= 0.95 {
		reasons = append(reasons, fmt.Sprintf("on-time delivery rate %.0f%%", partner.OnTimeDeliveryRate*100))
	}
	if criteria.MaxPrice != nil && quote.PriceCents <= *criteria.MaxPrice {
		reasons = append(reasons, "price within budget")
	}
	if criteria.MaxLeadTime != nil && quote.LeadTimeDays <= *criteria.MaxLeadTime {
		reasons = append(reasons, "lead time within deadline")
	}
	if partner.TotalOrders > 50 {
		reasons = append(reasons, fmt.Sprintf("experienced partner (%d orders)", partner.TotalOrders))
	}
	return reasons
}

// ceilingRatio is min(1, ceiling/value); a zero value always satisfies the ceiling.
func ceilingRatio(ceiling, value float64) float64 {
	if value <= 0 {
		return 1
	}
	return clamp01(ceiling / value)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
