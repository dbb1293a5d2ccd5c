package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/payments"
	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

var errStubNotConfigured = errors.New("stub not configured")

type stubRoutingService struct {
	findFn  func(ctx context.Context, criteria services.RoutingCriteria, limit int) ([]services.RoutingMatch, error)
	routeFn func(ctx context.Context, cmd services.RouteOrderCommand) (services.RouteResult, error)
}

func (s *stubRoutingService) FindBestMatches(ctx context.Context, criteria services.RoutingCriteria, limit int) ([]services.RoutingMatch, error) {
	if s.findFn == nil {
		return nil, errStubNotConfigured
	}
	return s.findFn(ctx, criteria, limit)
}

func (s *stubRoutingService) RouteOrder(ctx context.Context, cmd services.RouteOrderCommand) (services.RouteResult, error) {
	if s.routeFn == nil {
		return services.RouteResult{}, errStubNotConfigured
	}
	return s.routeFn(ctx, cmd)
}

type stubWorkOrderService struct {
	getFn        func(ctx context.Context, id string) (services.WorkOrder, error)
	transitionFn func(ctx context.Context, id string, status services.WorkOrderStatus) (services.WorkOrder, error)
}

func (s *stubWorkOrderService) Get(ctx context.Context, id string) (services.WorkOrder, error) {
	if s.getFn == nil {
		return services.WorkOrder{}, errStubNotConfigured
	}
	return s.getFn(ctx, id)
}

func (s *stubWorkOrderService) Transition(ctx context.Context, id string, status services.WorkOrderStatus) (services.WorkOrder, error) {
	if s.transitionFn == nil {
		return services.WorkOrder{}, errStubNotConfigured
	}
	return s.transitionFn(ctx, id, status)
}

type stubSLAService struct {
	evaluateFn func(ctx context.Context, id string) (services.SLARecord, error)
	applyFn    func(ctx context.Context, payoutID string) (services.Payout, error)
}

func (s *stubSLAService) Evaluate(ctx context.Context, id string) (services.SLARecord, error) {
	if s.evaluateFn == nil {
		return services.SLARecord{}, errStubNotConfigured
	}
	return s.evaluateFn(ctx, id)
}

func (s *stubSLAService) EvaluateAllOpen(context.Context) (services.SLASweepSummary, error) {
	return services.SLASweepSummary{}, nil
}

func (s *stubSLAService) RunSweep(context.Context) error { return nil }

func (s *stubSLAService) ApplyToPayout(ctx context.Context, payoutID string) (services.Payout, error) {
	if s.applyFn == nil {
		return services.Payout{}, errStubNotConfigured
	}
	return s.applyFn(ctx, payoutID)
}

type stubFulfillmentService struct {
	createFn  func(ctx context.Context, cmd services.CreateFulfillmentCommand) (services.Fulfillment, error)
	getFn     func(ctx context.Context, id, tenantID string) (services.Fulfillment, error)
	listFn    func(ctx context.Context, tenantID string, pager services.Pagination) (domain.CursorPage[services.Fulfillment], error)
	shipFn    func(ctx context.Context, cmd services.ShipFulfillmentCommand) (services.Fulfillment, error)
	deliverFn func(ctx context.Context, id, tenantID string) (services.Fulfillment, error)
	cancelFn  func(ctx context.Context, id, tenantID string) (services.Fulfillment, error)
	updateFn  func(ctx context.Context, cmd services.UpdateFulfillmentStatusCommand) (services.Fulfillment, error)
}

func (s *stubFulfillmentService) Create(ctx context.Context, cmd services.CreateFulfillmentCommand) (services.Fulfillment, error) {
	if s.createFn == nil {
		return services.Fulfillment{}, errStubNotConfigured
	}
	return s.createFn(ctx, cmd)
}

func (s *stubFulfillmentService) Get(ctx context.Context, id, tenantID string) (services.Fulfillment, error) {
	if s.getFn == nil {
		return services.Fulfillment{}, errStubNotConfigured
	}
	return s.getFn(ctx, id, tenantID)
}

func (s *stubFulfillmentService) List(ctx context.Context, tenantID string, pager services.Pagination) (domain.CursorPage[services.Fulfillment], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Fulfillment]{}, errStubNotConfigured
	}
	return s.listFn(ctx, tenantID, pager)
}

func (s *stubFulfillmentService) MarkShipped(ctx context.Context, cmd services.ShipFulfillmentCommand) (services.Fulfillment, error) {
	if s.shipFn == nil {
		return services.Fulfillment{}, errStubNotConfigured
	}
	return s.shipFn(ctx, cmd)
}

func (s *stubFulfillmentService) MarkDelivered(ctx context.Context, id, tenantID string) (services.Fulfillment, error) {
	if s.deliverFn == nil {
		return services.Fulfillment{}, errStubNotConfigured
	}
	return s.deliverFn(ctx, id, tenantID)
}

func (s *stubFulfillmentService) Cancel(ctx context.Context, id, tenantID string) (services.Fulfillment, error) {
	if s.cancelFn == nil {
		return services.Fulfillment{}, errStubNotConfigured
	}
	return s.cancelFn(ctx, id, tenantID)
}

func (s *stubFulfillmentService) UpdateStatus(ctx context.Context, cmd services.UpdateFulfillmentStatusCommand) (services.Fulfillment, error) {
	if s.updateFn == nil {
		return services.Fulfillment{}, errStubNotConfigured
	}
	return s.updateFn(ctx, cmd)
}

type stubPayoutService struct {
	createFn   func(ctx context.Context, cmd services.CreatePayoutCommand) (services.Payout, error)
	getFn      func(ctx context.Context, id string) (services.Payout, error)
	disburseFn func(ctx context.Context, id string) (services.Payout, error)
	eventFn    func(ctx context.Context, event services.TransferEvent) (services.Payout, error)
}

func (s *stubPayoutService) Create(ctx context.Context, cmd services.CreatePayoutCommand) (services.Payout, error) {
	if s.createFn == nil {
		return services.Payout{}, errStubNotConfigured
	}
	return s.createFn(ctx, cmd)
}

func (s *stubPayoutService) Get(ctx context.Context, id string) (services.Payout, error) {
	if s.getFn == nil {
		return services.Payout{}, errStubNotConfigured
	}
	return s.getFn(ctx, id)
}

func (s *stubPayoutService) Disburse(ctx context.Context, id string) (services.Payout, error) {
	if s.disburseFn == nil {
		return services.Payout{}, errStubNotConfigured
	}
	return s.disburseFn(ctx, id)
}

func (s *stubPayoutService) HandleTransferEvent(ctx context.Context, event services.TransferEvent) (services.Payout, error) {
	if s.eventFn == nil {
		return services.Payout{}, errStubNotConfigured
	}
	return s.eventFn(ctx, event)
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubVerifier struct {
	parseFn func(payload []byte, signature string) (payments.TransferEvent, error)
}

func (s *stubVerifier) ParseTransferEvent(payload []byte, signature string) (payments.TransferEvent, error) {
	if s.parseFn == nil {
		return payments.TransferEvent{}, errStubNotConfigured
	}
	return s.parseFn(payload, signature)
}

// serve mounts a route group the way NewRouter does and runs one request through it.
func serve(t *testing.T, method, target, tenant, body string, mount func(r chi.Router)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rr := httptest.NewRecorder()
	r := chi.NewRouter()
	r.Group(func(g chi.Router) {
		g.Use(RequireTenant)
		mount(g)
	})
	r.ServeHTTP(rr, req)
	return rr
}

// serveOpen runs one request through a group that does not require a tenant.
func serveOpen(t *testing.T, method, target, body string, header map[string]string, mount func(r chi.Router)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r := chi.NewRouter()
	mount(r)
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["error"] != code {
		t.Fatalf("expected error code %q, got %v", code, body["error"])
	}
}
