package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Luneo19/luneo-platform-sub030/internal/platform/ratelimit"
)

func newTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	return limiter
}

func TestAdminRateLimitHandlers(t *testing.T) {
	limiter := newTestLimiter(t)
	h := NewAdminRateLimitHandlers(limiter)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Check(ctx, "brand-1", 1); err != nil {
			t.Fatalf("check: %v", err)
		}
	}

	rr := serveOpen(t, http.MethodGet, "/rate-limits/brand-1", "", nil, h.Routes)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["limit"] != float64(100) || body["remaining"] != float64(97) {
		t.Fatalf("unexpected status %v", body)
	}
	if _, ok := body["override"]; ok {
		t.Fatalf("expected no override, got %v", body["override"])
	}

	rr = serveOpen(t, http.MethodPut, "/rate-limits/brand-1/override", `{"capacity":10,"refillRate":1,"refillIntervalSeconds":60}`, nil, h.Routes)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cfg, ok, err := limiter.Override(ctx, "brand-1")
	if err != nil || !ok || cfg.Capacity != 10 || cfg.RefillInterval != time.Minute {
		t.Fatalf("unexpected override %+v ok=%v err=%v", cfg, ok, err)
	}

	rr = serveOpen(t, http.MethodGet, "/rate-limits/brand-1", "", nil, h.Routes)
	body = decodeBody(t, rr)
	override, ok := body["override"].(map[string]any)
	if !ok || override["capacity"] != float64(10) {
		t.Fatalf("expected override in status, got %v", body)
	}

	rr = serveOpen(t, http.MethodDelete, "/rate-limits/brand-1", "", nil, h.Routes)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on reset, got %d", rr.Code)
	}

	rr = serveOpen(t, http.MethodDelete, "/rate-limits/brand-1/override", "", nil, h.Routes)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on clear, got %d", rr.Code)
	}
	if _, ok, _ := limiter.Override(ctx, "brand-1"); ok {
		t.Fatalf("expected override cleared")
	}

	rr = serveOpen(t, http.MethodGet, "/rate-limits/brand-1", "", nil, h.Routes)
	if body := decodeBody(t, rr); body["remaining"] != float64(100) {
		t.Fatalf("expected full bucket after reset, got %v", body["remaining"])
	}
}

func TestAdminRateLimitHandlersRejectsInvalidOverride(t *testing.T) {
	h := NewAdminRateLimitHandlers(newTestLimiter(t))

	rr := serveOpen(t, http.MethodPut, "/rate-limits/brand-1/override", `{"capacity":0,"refillRate":1,"refillIntervalSeconds":60}`, nil, h.Routes)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")

	rr = serveOpen(t, http.MethodGet, "/rate-limits/brand-1", "", nil, NewAdminRateLimitHandlers(nil).Routes)
	assertErrorCode(t, rr, http.StatusServiceUnavailable, "rate_limit_service_unavailable")
}
