package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Luneo19/luneo-platform-sub030/internal/platform/requestctx"
)

var fixedTime = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

func newRequest(tenant, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	if tenant != "" {
		req = req.WithContext(requestctx.WithTenant(req.Context(), tenant))
	}
	return req
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"payout":{"id":"po_1"}}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("brand-1", "key-1", `{"partnerId":"p1"}`))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("brand-1", "key-1", `{"partnerId":"p1"}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content type to be replayed, got %q", second.Header().Get("Content-Type"))
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected body %s, got %s", first.Body.String(), second.Body.String())
	}
}

func TestMiddlewareScopesKeysByTenant(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("brand-1", "shared", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("brand-2", "shared", `{}`))

	if calls != 2 {
		t.Fatalf("expected each tenant to reach the handler, got %d calls", calls)
	}
}

func TestMiddlewareRejectsReusedKey(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("brand-1", "same", `{"feesCents":1}`))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("brand-1", "same", `{"feesCents":2}`))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_reused")
}

func TestMiddlewareInFlightReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is held")
	}))

	req := newRequest("brand-1", "held", `{}`)
	if _, _, err := store.Reserve(context.Background(), Scope("brand-1", "held"), fingerprintRequest(req, []byte(`{}`)), fixedTime, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("brand-1", "retry", `{}`))
	if first.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("brand-1", "retry", `{}`))
	if second.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to reach handler, code=%d calls=%d", second.Code, calls)
	}
}

func TestMiddlewareKeyOptionalUnlessRequired(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rr := httptest.NewRecorder()
	Middleware(NewMemoryStore())(next).ServeHTTP(rr, newRequest("brand-1", "", `{}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected pass-through without key, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	Middleware(NewMemoryStore(), RequireKey())(next).ServeHTTP(rr, newRequest("brand-1", "", `{}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareStoreFailure(t *testing.T) {
	handler := Middleware(failingStore{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when the store is down")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("brand-1", "k", `{}`))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_unavailable")
}

func TestMemoryStorePurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, _, err := store.Reserve(ctx, "a/1", "f", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, _, err := store.Reserve(ctx, "a/2", "f", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	removed, err := store.Purge(ctx, fixedTime.Add(10*time.Minute), 0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged entry, got %d", removed)
	}
	outcome, _, err := store.Reserve(ctx, "a/2", "f", fixedTime.Add(10*time.Minute), time.Hour)
	if err != nil || outcome != OutcomeInFlight {
		t.Fatalf("expected live entry to survive, outcome=%v err=%v", outcome, err)
	}
}

type failingStore struct{}

func (failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Outcome, Entry, error) {
	return 0, Entry{}, errors.Join(ErrStoreUnavailable, errors.New("deadline"))
}

func (failingStore) Complete(context.Context, Entry, time.Time, time.Duration) error { return nil }

func (failingStore) Release(context.Context, string) error { return nil }

func (failingStore) Purge(context.Context, time.Time, int) (int, error) { return 0, nil }

func assertErrorCode(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
