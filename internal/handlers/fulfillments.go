package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/httpx"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/pagination"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/requestctx"
	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

const (
	defaultFulfillmentPageSize = 20
	maxFulfillmentPageSize     = 100
)

type createFulfillmentRequest struct {
	PipelineID string `json:"pipelineId"`
}

type shippingRequest struct {
	Carrier        *string `json:"carrier"`
	TrackingNumber *string `json:"trackingNumber"`
	TrackingURL    *string `json:"trackingUrl"`
}

func (s shippingRequest) details() services.ShippingDetails {
	return services.ShippingDetails{
		Carrier:        s.Carrier,
		TrackingNumber: s.TrackingNumber,
		TrackingURL:    s.TrackingURL,
	}
}

type updateFulfillmentStatusRequest struct {
	Status         string  `json:"status"`
	Carrier        *string `json:"carrier"`
	TrackingNumber *string `json:"trackingNumber"`
	TrackingURL    *string `json:"trackingUrl"`
}

type fulfillmentListResponse struct {
	Items         []fulfillmentPayload `json:"items"`
	NextPageToken string               `json:"nextPageToken,omitempty"`
}

// FulfillmentHandlers exposes the tenant scoped shipping lifecycle.
type FulfillmentHandlers struct {
	fulfillments services.FulfillmentService
}

// NewFulfillmentHandlers constructs FulfillmentHandlers.
func NewFulfillmentHandlers(fulfillments services.FulfillmentService) *FulfillmentHandlers {
	return &FulfillmentHandlers{fulfillments: fulfillments}
}

// Routes registers the /fulfillments endpoints.
func (h *FulfillmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{fulfillmentID}", h.get)
	r.Post("/{fulfillmentID}/ship", h.ship)
	r.Post("/{fulfillmentID}/deliver", h.deliver)
	r.Post("/{fulfillmentID}/cancel", h.cancel)
	r.Patch("/{fulfillmentID}/status", h.updateStatus)
}

func (h *FulfillmentHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		serviceUnavailable(ctx, w, "fulfillment")
		return
	}
	var req createFulfillmentRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	created, err := h.fulfillments.Create(ctx, services.CreateFulfillmentCommand{
		PipelineID: strings.TrimSpace(req.PipelineID),
		TenantID:   requestctx.Tenant(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"fulfillment": buildFulfillmentPayload(created)})
}

func (h *FulfillmentHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		serviceUnavailable(ctx, w, "fulfillment")
		return
	}
	query := r.URL.Query()
	pageSize, err := pagination.PageSize(query.Get("page_size"), pagination.Options{
		DefaultPageSize: defaultFulfillmentPageSize,
		MaxPageSize:     maxFulfillmentPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.fulfillments.List(ctx, requestctx.Tenant(ctx), services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]fulfillmentPayload, 0, len(page.Items))
	for _, f := range page.Items {
		items = append(items, buildFulfillmentPayload(f))
	}
	writeJSONResponse(w, http.StatusOK, fulfillmentListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *FulfillmentHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		serviceUnavailable(ctx, w, "fulfillment")
		return
	}
	f, err := h.fulfillments.Get(ctx, chi.URLParam(r, "fulfillmentID"), requestctx.Tenant(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"fulfillment": buildFulfillmentPayload(f)})
}

func (h *FulfillmentHandlers) ship(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		serviceUnavailable(ctx, w, "fulfillment")
		return
	}
	var req shippingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	f, err := h.fulfillments.MarkShipped(ctx, services.ShipFulfillmentCommand{
		FulfillmentID: chi.URLParam(r, "fulfillmentID"),
		TenantID:      requestctx.Tenant(ctx),
		Shipping:      req.details(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"fulfillment": buildFulfillmentPayload(f)})
}

func (h *FulfillmentHandlers) deliver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		serviceUnavailable(ctx, w, "fulfillment")
		return
	}
	f, err := h.fulfillments.MarkDelivered(ctx, chi.URLParam(r, "fulfillmentID"), requestctx.Tenant(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"fulfillment": buildFulfillmentPayload(f)})
}

func (h *FulfillmentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		serviceUnavailable(ctx, w, "fulfillment")
		return
	}
	f, err := h.fulfillments.Cancel(ctx, chi.URLParam(r, "fulfillmentID"), requestctx.Tenant(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"fulfillment": buildFulfillmentPayload(f)})
}

func (h *FulfillmentHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		serviceUnavailable(ctx, w, "fulfillment")
		return
	}
	var req updateFulfillmentStatusRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	f, err := h.fulfillments.UpdateStatus(ctx, services.UpdateFulfillmentStatusCommand{
		FulfillmentID: chi.URLParam(r, "fulfillmentID"),
		TenantID:      requestctx.Tenant(ctx),
		Status:        domain.FulfillmentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Shipping: services.ShippingDetails{
			Carrier:        req.Carrier,
			TrackingNumber: req.TrackingNumber,
			TrackingURL:    req.TrackingURL,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"fulfillment": buildFulfillmentPayload(f)})
}
