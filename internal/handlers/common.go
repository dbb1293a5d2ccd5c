package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub030/internal/platform/httpx"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/ratelimit"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/requestctx"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

const maxJSONBodySize = 64 * 1024

// RequireTenant resolves the X-Tenant-ID header into the request context and
// rejects requests that do not carry one.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(requestctx.TenantHeader))
		if tenantID == "" {
			httpx.WriteError(r.Context(), w, httpx.NewError("tenant_required", requestctx.TenantHeader+" header is required", http.StatusBadRequest))
			return
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithTenant(r.Context(), tenantID)))
	})
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

// decodeJSONBody decodes a bounded JSON body into dst. An empty body leaves dst untouched.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeInvalidBody(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// writeServiceError maps service sentinels onto HTTP statuses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrRoutingInvalidInput),
		errors.Is(err, services.ErrWorkOrderInvalidInput),
		errors.Is(err, services.ErrSLAInvalidInput),
		errors.Is(err, services.ErrFulfillmentInvalidInput),
		errors.Is(err, services.ErrPayoutInvalidInput),
		errors.Is(err, ratelimit.ErrInvalidRequest),
		errors.Is(err, ratelimit.ErrInvalidConfig):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	case errors.Is(err, services.ErrRoutingNotFound),
		errors.Is(err, services.ErrWorkOrderNotFound),
		errors.Is(err, services.ErrSLANotFound),
		errors.Is(err, services.ErrFulfillmentNotFound),
		errors.Is(err, services.ErrPayoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
		return
	case errors.Is(err, services.ErrWorkOrderInvalidState),
		errors.Is(err, services.ErrSLAInvalidState),
		errors.Is(err, services.ErrFulfillmentInvalidState),
		errors.Is(err, services.ErrPayoutInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
		return
	case errors.Is(err, services.ErrFulfillmentNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("not_cancellable", err.Error(), http.StatusConflict))
		return
	case errors.Is(err, services.ErrRoutingUnavailable),
		errors.Is(err, services.ErrPayoutGatewayUnavailable),
		errors.Is(err, ratelimit.ErrStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", err.Error(), http.StatusServiceUnavailable))
		return
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError("unavailable", "dependency unavailable", http.StatusServiceUnavailable))
			return
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource was modified concurrently; retry", http.StatusConflict))
			return
		}
	}

	requestctx.Logger(ctx).Error("handlers: unexpected service error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
}
