package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Luneo19/luneo-platform-sub030/internal/platform/httpx"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/ratelimit"
)

type rateLimitConfigPayload struct {
	Capacity              int   `json:"capacity"`
	RefillRate            int   `json:"refillRate"`
	RefillIntervalSeconds int64 `json:"refillIntervalSeconds"`
}

type rateLimitStatusPayload struct {
	TenantID  string                  `json:"tenantId"`
	Limit     int                     `json:"limit"`
	Remaining int                     `json:"remaining"`
	Allowed   bool                    `json:"allowed"`
	ResetAt   string                  `json:"resetAt"`
	Defaults  rateLimitConfigPayload  `json:"defaults"`
	Override  *rateLimitConfigPayload `json:"override,omitempty"`
}

func buildRateLimitConfigPayload(cfg ratelimit.Config) rateLimitConfigPayload {
	return rateLimitConfigPayload{
		Capacity:              cfg.Capacity,
		RefillRate:            cfg.RefillRate,
		RefillIntervalSeconds: int64(cfg.RefillInterval / time.Second),
	}
}

// AdminRateLimitHandlers lets operators inspect and tune per-tenant buckets.
type AdminRateLimitHandlers struct {
	limiter *ratelimit.Limiter
}

// NewAdminRateLimitHandlers constructs AdminRateLimitHandlers.
func NewAdminRateLimitHandlers(limiter *ratelimit.Limiter) *AdminRateLimitHandlers {
	return &AdminRateLimitHandlers{limiter: limiter}
}

// Routes registers the /admin/rate-limits endpoints.
func (h *AdminRateLimitHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/rate-limits/{tenantID}", func(rt chi.Router) {
		rt.Get("/", h.status)
		rt.Delete("/", h.reset)
		rt.Put("/override", h.setOverride)
		rt.Delete("/override", h.clearOverride)
	})
}

func (h *AdminRateLimitHandlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.limiter == nil {
		serviceUnavailable(ctx, w, "rate_limit")
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	result, err := h.limiter.Status(ctx, tenantID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := rateLimitStatusPayload{
		TenantID:  tenantID,
		Limit:     result.Limit,
		Remaining: result.Remaining,
		Allowed:   result.Allowed,
		ResetAt:   formatTime(result.ResetAt),
		Defaults:  buildRateLimitConfigPayload(h.limiter.Defaults()),
	}
	override, ok, err := h.limiter.Override(ctx, tenantID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if ok {
		cfg := buildRateLimitConfigPayload(override)
		payload.Override = &cfg
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminRateLimitHandlers) reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.limiter == nil {
		serviceUnavailable(ctx, w, "rate_limit")
		return
	}
	if err := h.limiter.Reset(ctx, chi.URLParam(r, "tenantID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminRateLimitHandlers) setOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.limiter == nil {
		serviceUnavailable(ctx, w, "rate_limit")
		return
	}
	var req rateLimitConfigPayload
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	cfg := ratelimit.Config{
		Capacity:       req.Capacity,
		RefillRate:     req.RefillRate,
		RefillInterval: time.Duration(req.RefillIntervalSeconds) * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if err := h.limiter.SetOverride(ctx, chi.URLParam(r, "tenantID"), cfg); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"override": buildRateLimitConfigPayload(cfg)})
}

func (h *AdminRateLimitHandlers) clearOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.limiter == nil {
		serviceUnavailable(ctx, w, "rate_limit")
		return
	}
	if err := h.limiter.ClearOverride(ctx, chi.URLParam(r, "tenantID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
