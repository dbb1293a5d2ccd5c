package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

type transitionWorkOrderRequest struct {
	Status string `json:"status"`
}

// WorkOrderHandlers exposes the production lifecycle and on-demand SLA evaluation.
type WorkOrderHandlers struct {
	workOrders services.WorkOrderService
	sla        services.SLAService
}

// NewWorkOrderHandlers constructs WorkOrderHandlers.
func NewWorkOrderHandlers(workOrders services.WorkOrderService, sla services.SLAService) *WorkOrderHandlers {
	return &WorkOrderHandlers{workOrders: workOrders, sla: sla}
}

// Routes registers the /work-orders endpoints.
func (h *WorkOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{workOrderID}", h.getWorkOrder)
	r.Post("/{workOrderID}/transition", h.transition)
	r.Post("/{workOrderID}/sla", h.evaluateSLA)
}

func (h *WorkOrderHandlers) getWorkOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.workOrders == nil {
		serviceUnavailable(ctx, w, "work_order")
		return
	}
	wo, err := h.workOrders.Get(ctx, chi.URLParam(r, "workOrderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"workOrder": buildWorkOrderPayload(wo)})
}

func (h *WorkOrderHandlers) transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.workOrders == nil {
		serviceUnavailable(ctx, w, "work_order")
		return
	}
	var req transitionWorkOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	status := domain.WorkOrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	wo, err := h.workOrders.Transition(ctx, chi.URLParam(r, "workOrderID"), status)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"workOrder": buildWorkOrderPayload(wo)})
}

func (h *WorkOrderHandlers) evaluateSLA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sla == nil {
		serviceUnavailable(ctx, w, "sla")
		return
	}
	record, err := h.sla.Evaluate(ctx, chi.URLParam(r, "workOrderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"record": buildSLARecordPayload(record)})
}
