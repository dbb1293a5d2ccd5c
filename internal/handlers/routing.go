package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/httpx"
	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

const maxMatchLimit = 20

type findMatchesRequest struct {
	OrderID     string  `json:"orderId"`
	ProductID   string  `json:"productId"`
	Material    *string `json:"material"`
	Technique   *string `json:"technique"`
	MaxPrice    *int64  `json:"maxPrice"`
	MaxLeadTime *int    `json:"maxLeadTime"`
	Urgency     string  `json:"urgency"`
	Limit       int     `json:"limit"`
}

type routeOrderRequest struct {
	PartnerID string       `json:"partnerId"`
	Quote     quotePayload `json:"quote"`
}

// RoutingHandlers exposes partner matching and route commitment.
type RoutingHandlers struct {
	routing services.RoutingService
}

// NewRoutingHandlers constructs RoutingHandlers.
func NewRoutingHandlers(routing services.RoutingService) *RoutingHandlers {
	return &RoutingHandlers{routing: routing}
}

// Routes registers the /routing endpoints.
func (h *RoutingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/matches", h.findMatches)
	r.Post("/orders/{orderID}/route", h.routeOrder)
}

func (h *RoutingHandlers) findMatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.routing == nil {
		serviceUnavailable(ctx, w, "routing")
		return
	}
	var req findMatchesRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	if req.Limit < 0 || req.Limit > maxMatchLimit {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be between 1 and 20", http.StatusBadRequest))
		return
	}

	matches, err := h.routing.FindBestMatches(ctx, services.RoutingCriteria{
		OrderID:     strings.TrimSpace(req.OrderID),
		ProductID:   strings.TrimSpace(req.ProductID),
		Material:    req.Material,
		Technique:   req.Technique,
		MaxPrice:    req.MaxPrice,
		MaxLeadTime: req.MaxLeadTime,
		Urgency:     domain.Urgency(strings.ToLower(strings.TrimSpace(req.Urgency))),
	}, req.Limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]routingMatchPayload, 0, len(matches))
	for _, m := range matches {
		reasons := m.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		items = append(items, routingMatchPayload{
			PartnerID:   m.Partner.ID,
			PartnerName: m.Partner.Name,
			Score:       m.Score,
			Reasons:     reasons,
			Quote:       buildQuotePayload(m.Quote),
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"matches": items})
}

func (h *RoutingHandlers) routeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.routing == nil {
		serviceUnavailable(ctx, w, "routing")
		return
	}
	var req routeOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}

	result, err := h.routing.RouteOrder(ctx, services.RouteOrderCommand{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		PartnerID: strings.TrimSpace(req.PartnerID),
		Quote: services.Quote{
			PriceCents:   req.Quote.PriceCents,
			LeadTimeDays: req.Quote.LeadTimeDays,
			Breakdown: services.QuoteBreakdown{
				BaseCostCents:  req.Quote.Breakdown.BaseCostCents,
				LaborCostCents: req.Quote.Breakdown.LaborCostCents,
				Multiplier:     req.Quote.Breakdown.Multiplier,
				Urgency:        domain.Urgency(strings.ToLower(strings.TrimSpace(req.Quote.Breakdown.Urgency))),
			},
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"quote":     buildQuotePayload(result.Quote),
		"workOrder": buildWorkOrderPayload(result.WorkOrder),
	})
}
