package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/requestctx"
	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

func TestNewRouter_DefaultMounts(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	router := NewRouter(WithHealthHandlers(healthHandlers))

	t.Run("healthz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("unregistered tenant group", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payouts/po-1", nil)
		req.Header.Set(requestctx.TenantHeader, "brand-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assertErrorCode(t, rr, http.StatusNotImplemented, "not_implemented")
	})

	t.Run("unknown route", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assertErrorCode(t, rr, http.StatusNotFound, "route_not_found")
	})
}

func TestNewRouter_TenantGroups(t *testing.T) {
	var seenTenant string
	var tenantMiddlewareRan bool
	router := NewRouter(
		WithWorkOrderRoutes(func(r chi.Router) {
			r.Get("/{workOrderID}", func(w http.ResponseWriter, req *http.Request) {
				seenTenant = requestctx.Tenant(req.Context())
				w.WriteHeader(http.StatusNoContent)
			})
		}),
		WithTenantMiddlewares(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				tenantMiddlewareRan = requestctx.Tenant(req.Context()) != ""
				next.ServeHTTP(w, req)
			})
		}),
		WithAdminRoutes(func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		}),
	)

	t.Run("missing tenant header", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/work-orders/wo-1", nil))
		assertErrorCode(t, rr, http.StatusBadRequest, "tenant_required")
	})

	t.Run("tenant resolved before group middleware", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/work-orders/wo-1", nil)
		req.Header.Set(requestctx.TenantHeader, " brand-9 ")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rr.Code)
		}
		if seenTenant != "brand-9" {
			t.Fatalf("expected trimmed tenant, got %q", seenTenant)
		}
		if !tenantMiddlewareRan {
			t.Fatalf("expected tenant middleware to observe the tenant")
		}
	})

	t.Run("admin group does not require tenant", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/ping", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rr.Code)
		}
	})
}

func TestWriteServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", services.ErrRoutingInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"not found", services.ErrFulfillmentNotFound, http.StatusNotFound, "not_found"},
		{"invalid state", services.ErrWorkOrderInvalidState, http.StatusConflict, "invalid_state"},
		{"not cancellable", services.ErrFulfillmentNotCancellable, http.StatusConflict, "not_cancellable"},
		{"gateway unavailable", services.ErrPayoutGatewayUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errStubNotConfigured, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(context.Background(), rr, tc.err)
			assertErrorCode(t, rr, tc.status, tc.code)
		})
	}
}
