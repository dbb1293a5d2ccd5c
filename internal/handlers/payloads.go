package handlers

import (
	"time"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
)

type quoteBreakdownPayload struct {
	BaseCostCents  int64   `json:"baseCostCents"`
	LaborCostCents int64   `json:"laborCostCents"`
	Multiplier     float64 `json:"multiplier"`
	Urgency        string  `json:"urgency"`
}

type quotePayload struct {
	ID           string                `json:"id,omitempty"`
	OrderID      string                `json:"orderId,omitempty"`
	PartnerID    string                `json:"partnerId,omitempty"`
	PriceCents   int64                 `json:"priceCents"`
	LeadTimeDays int                   `json:"leadTimeDays"`
	Breakdown    quoteBreakdownPayload `json:"breakdown"`
	Status       string                `json:"status,omitempty"`
	CreatedAt    string                `json:"createdAt,omitempty"`
}

type routingMatchPayload struct {
	PartnerID   string       `json:"partnerId"`
	PartnerName string       `json:"partnerName"`
	Score       float64      `json:"score"`
	Reasons     []string     `json:"reasons"`
	Quote       quotePayload `json:"quote"`
}

type workOrderPayload struct {
	ID                string  `json:"id"`
	OrderID           string  `json:"orderId"`
	PartnerID         string  `json:"partnerId"`
	QuoteID           string  `json:"quoteId"`
	RoutingScore      float64 `json:"routingScore"`
	Status            string  `json:"status"`
	PayoutAmountCents int64   `json:"payoutAmountCents"`
	CommissionCents   int64   `json:"commissionCents"`
	SLADeadline       string  `json:"slaDeadline,omitempty"`
	CompletedAt       string  `json:"completedAt,omitempty"`
	CreatedAt         string  `json:"createdAt,omitempty"`
	UpdatedAt         string  `json:"updatedAt,omitempty"`
}

type slaRecordPayload struct {
	WorkOrderID  string `json:"workOrderId"`
	PartnerID    string `json:"partnerId"`
	Deadline     string `json:"deadline"`
	CompletedAt  string `json:"completedAt,omitempty"`
	OnTime       bool   `json:"onTime"`
	DelayHours   int    `json:"delayHours"`
	PenaltyCents int64  `json:"penaltyCents"`
	BonusCents   int64  `json:"bonusCents"`
	Reason       string `json:"reason"`
	EvaluatedAt  string `json:"evaluatedAt"`
}

type fulfillmentPayload struct {
	ID             string  `json:"id"`
	PipelineID     string  `json:"pipelineId"`
	OrderID        string  `json:"orderId,omitempty"`
	Status         string  `json:"status"`
	Carrier        *string `json:"carrier,omitempty"`
	TrackingNumber *string `json:"trackingNumber,omitempty"`
	TrackingURL    *string `json:"trackingUrl,omitempty"`
	ShippedAt      string  `json:"shippedAt,omitempty"`
	DeliveredAt    string  `json:"deliveredAt,omitempty"`
	CancelledAt    string  `json:"cancelledAt,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

type payoutPayload struct {
	ID              string   `json:"id"`
	PartnerID       string   `json:"partnerId"`
	BaseAmountCents int64    `json:"baseAmountCents"`
	AmountCents     int64    `json:"amountCents"`
	PenaltyCents    int64    `json:"penaltyCents"`
	BonusCents      int64    `json:"bonusCents"`
	FeesCents       int64    `json:"feesCents"`
	NetAmountCents  int64    `json:"netAmountCents"`
	Currency        string   `json:"currency"`
	WorkOrderIDs    []string `json:"workOrderIds"`
	Status          string   `json:"status"`
	TransferID      string   `json:"transferId,omitempty"`
	PaidAt          string   `json:"paidAt,omitempty"`
	CreatedAt       string   `json:"createdAt"`
	UpdatedAt       string   `json:"updatedAt"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func buildQuotePayload(q domain.Quote) quotePayload {
	return quotePayload{
		ID:           q.ID,
		OrderID:      q.OrderID,
		PartnerID:    q.PartnerID,
		PriceCents:   q.PriceCents,
		LeadTimeDays: q.LeadTimeDays,
		Breakdown: quoteBreakdownPayload{
			BaseCostCents:  q.Breakdown.BaseCostCents,
			LaborCostCents: q.Breakdown.LaborCostCents,
			Multiplier:     q.Breakdown.Multiplier,
			Urgency:        string(q.Breakdown.Urgency),
		},
		Status:    string(q.Status),
		CreatedAt: formatTime(q.CreatedAt),
	}
}

func buildWorkOrderPayload(wo domain.WorkOrder) workOrderPayload {
	return workOrderPayload{
		ID:                wo.ID,
		OrderID:           wo.OrderID,
		PartnerID:         wo.PartnerID,
		QuoteID:           wo.QuoteID,
		RoutingScore:      wo.RoutingScore,
		Status:            string(wo.Status),
		PayoutAmountCents: wo.PayoutAmountCents,
		CommissionCents:   wo.CommissionCents,
		SLADeadline:       formatTimePtr(wo.SLADeadline),
		CompletedAt:       formatTimePtr(wo.CompletedAt),
		CreatedAt:         formatTime(wo.CreatedAt),
		UpdatedAt:         formatTime(wo.UpdatedAt),
	}
}

func buildSLARecordPayload(r domain.SLARecord) slaRecordPayload {
	return slaRecordPayload{
		WorkOrderID:  r.WorkOrderID,
		PartnerID:    r.PartnerID,
		Deadline:     formatTime(r.Deadline),
		CompletedAt:  formatTimePtr(r.CompletedAt),
		OnTime:       r.OnTime,
		DelayHours:   r.DelayHours,
		PenaltyCents: r.PenaltyCents,
		BonusCents:   r.BonusCents,
		Reason:       r.Reason,
		EvaluatedAt:  formatTime(r.EvaluatedAt),
	}
}

func buildFulfillmentPayload(f domain.Fulfillment) fulfillmentPayload {
	return fulfillmentPayload{
		ID:             f.ID,
		PipelineID:     f.PipelineID,
		OrderID:        f.OrderID,
		Status:         string(f.Status),
		Carrier:        f.Carrier,
		TrackingNumber: f.TrackingNumber,
		TrackingURL:    f.TrackingURL,
		ShippedAt:      formatTimePtr(f.ShippedAt),
		DeliveredAt:    formatTimePtr(f.DeliveredAt),
		CancelledAt:    formatTimePtr(f.CancelledAt),
		CreatedAt:      formatTime(f.CreatedAt),
		UpdatedAt:      formatTime(f.UpdatedAt),
	}
}

func buildPayoutPayload(p domain.Payout) payoutPayload {
	ids := p.WorkOrderIDs
	if ids == nil {
		ids = []string{}
	}
	return payoutPayload{
		ID:              p.ID,
		PartnerID:       p.PartnerID,
		BaseAmountCents: p.BaseAmountCents,
		AmountCents:     p.AmountCents,
		PenaltyCents:    p.PenaltyCents,
		BonusCents:      p.BonusCents,
		FeesCents:       p.FeesCents,
		NetAmountCents:  p.NetAmountCents,
		Currency:        p.Currency,
		WorkOrderIDs:    ids,
		Status:          string(p.Status),
		TransferID:      p.TransferID,
		PaidAt:          formatTimePtr(p.PaidAt),
		CreatedAt:       formatTime(p.CreatedAt),
		UpdatedAt:       formatTime(p.UpdatedAt),
	}
}
