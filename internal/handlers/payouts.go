package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

type createPayoutRequest struct {
	PartnerID    string   `json:"partnerId"`
	WorkOrderIDs []string `json:"workOrderIds"`
	FeesCents    int64    `json:"feesCents"`
}

// PayoutHandlers exposes payout aggregation, SLA adjustment and disbursement.
type PayoutHandlers struct {
	payouts services.PayoutService
	sla     services.SLAService
}

// NewPayoutHandlers constructs PayoutHandlers.
func NewPayoutHandlers(payouts services.PayoutService, sla services.SLAService) *PayoutHandlers {
	return &PayoutHandlers{payouts: payouts, sla: sla}
}

// Routes registers the /payouts endpoints.
func (h *PayoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.create)
	r.Get("/{payoutID}", h.get)
	r.Post("/{payoutID}/apply-sla", h.applySLA)
	r.Post("/{payoutID}/disburse", h.disburse)
}

func (h *PayoutHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		serviceUnavailable(ctx, w, "payout")
		return
	}
	var req createPayoutRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	ids := make([]string, 0, len(req.WorkOrderIDs))
	for _, id := range req.WorkOrderIDs {
		ids = append(ids, strings.TrimSpace(id))
	}
	payout, err := h.payouts.Create(ctx, services.CreatePayoutCommand{
		PartnerID:    strings.TrimSpace(req.PartnerID),
		WorkOrderIDs: ids,
		FeesCents:    req.FeesCents,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"payout": buildPayoutPayload(payout)})
}

func (h *PayoutHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		serviceUnavailable(ctx, w, "payout")
		return
	}
	payout, err := h.payouts.Get(ctx, chi.URLParam(r, "payoutID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"payout": buildPayoutPayload(payout)})
}

func (h *PayoutHandlers) applySLA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sla == nil {
		serviceUnavailable(ctx, w, "sla")
		return
	}
	payout, err := h.sla.ApplyToPayout(ctx, chi.URLParam(r, "payoutID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"payout": buildPayoutPayload(payout)})
}

func (h *PayoutHandlers) disburse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		serviceUnavailable(ctx, w, "payout")
		return
	}
	payout, err := h.payouts.Disburse(ctx, chi.URLParam(r, "payoutID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"payout": buildPayoutPayload(payout)})
}
