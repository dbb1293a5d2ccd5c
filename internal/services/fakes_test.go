package services

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/storage"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

type fakeRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepositoryError) Error() string {
	switch {
	case e.notFound:
		return "repository error (not found)"
	case e.conflict:
		return "repository error (conflict)"
	case e.unavailable:
		return "repository error (unavailable)"
	}
	return "repository error"
}

func (e fakeRepositoryError) IsNotFound() bool    { return e.notFound }
func (e fakeRepositoryError) IsConflict() bool    { return e.conflict }
func (e fakeRepositoryError) IsUnavailable() bool { return e.unavailable }

var errNotFound = fakeRepositoryError{notFound: true}

// memoryStore backs every repository fake with one mutex-guarded set of maps.
type memoryStore struct {
	mu           sync.Mutex
	partners     map[string]domain.Partner
	orders       map[string]domain.Order
	products     map[string]domain.Product
	quotes       map[string]domain.Quote
	workOrders   map[string]domain.WorkOrder
	records      map[string]domain.SLARecord
	payouts      map[string]domain.Payout
	pipelines    map[string]domain.Pipeline
	fulfillments map[string]domain.Fulfillment

	// failures injects errors into FindByID lookups keyed by "<kind>:<id>".
	failures map[string]error
	txCount  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		partners:     map[string]domain.Partner{},
		orders:       map[string]domain.Order{},
		products:     map[string]domain.Product{},
		quotes:       map[string]domain.Quote{},
		workOrders:   map[string]domain.WorkOrder{},
		records:      map[string]domain.SLARecord{},
		payouts:      map[string]domain.Payout{},
		pipelines:    map[string]domain.Pipeline{},
		fulfillments: map[string]domain.Fulfillment{},
		failures:     map[string]error{},
	}
}

func (m *memoryStore) failure(kind, id string) error {
	return m.failures[kind+":"+id]
}

func (m *memoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.txCount++
	m.mu.Unlock()
	return fn(ctx)
}

func (m *memoryStore) Partners() *memPartners         { return &memPartners{m} }
func (m *memoryStore) Orders() *memOrders             { return &memOrders{m} }
func (m *memoryStore) Catalog() *memCatalog           { return &memCatalog{m} }
func (m *memoryStore) Quotes() *memQuotes             { return &memQuotes{m} }
func (m *memoryStore) WorkOrders() *memWorkOrders     { return &memWorkOrders{m} }
func (m *memoryStore) Records() *memRecords           { return &memRecords{m} }
func (m *memoryStore) Payouts() *memPayouts           { return &memPayouts{m} }
func (m *memoryStore) Pipelines() *memPipelines       { return &memPipelines{m} }
func (m *memoryStore) Fulfillments() *memFulfillments { return &memFulfillments{m} }

var _ repositories.UnitOfWork = (*memoryStore)(nil)

type memPartners struct{ *memoryStore }

var _ repositories.PartnerRepository = (*memPartners)(nil)

func (r *memPartners) FindByID(_ context.Context, id string) (domain.Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("partner", id); err != nil {
		return domain.Partner{}, err
	}
	p, ok := r.partners[id]
	if !ok {
		return domain.Partner{}, errNotFound
	}
	return p, nil
}

func (r *memPartners) ListEligible(_ context.Context) ([]domain.Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Partner
	for _, p := range r.partners {
		if p.Status == domain.PartnerStatusActive && p.KYCStatus == domain.KYCStatusVerified {
			out = append(out, p)
		}
	}
	// Map iteration is random; sorting by name keeps the id tie-break meaningful in tests.
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memPartners) List(_ context.Context) ([]domain.Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Partner, 0, len(r.partners))
	for _, p := range r.partners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memPartners) IncrementLoad(_ context.Context, id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.partners[id]
	if !ok {
		return errNotFound
	}
	p.CurrentLoad += delta
	r.partners[id] = p
	return nil
}

func (r *memPartners) SetLoad(_ context.Context, id string, load int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("setload", id); err != nil {
		return err
	}
	p, ok := r.partners[id]
	if !ok {
		return errNotFound
	}
	p.CurrentLoad = load
	r.partners[id] = p
	return nil
}

func (r *memPartners) RecordDelivery(_ context.Context, id string, onTime bool) (domain.Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.partners[id]
	if !ok {
		return domain.Partner{}, errNotFound
	}
	p.OnTimeDeliveryRate, p.TotalOrders = domain.FoldOnTime(p.OnTimeDeliveryRate, p.TotalOrders, onTime)
	p.CompletedOrders++
	r.partners[id] = p
	return p, nil
}

type memOrders struct{ *memoryStore }

func (r *memOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, errNotFound
	}
	return o, nil
}

type memCatalog struct{ *memoryStore }

func (r *memCatalog) FindProduct(_ context.Context, id string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return domain.Product{}, errNotFound
	}
	return p, nil
}

type memQuotes struct{ *memoryStore }

func (r *memQuotes) Insert(_ context.Context, q domain.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.quotes[q.ID]; exists {
		return fakeRepositoryError{conflict: true}
	}
	r.quotes[q.ID] = q
	return nil
}

func (r *memQuotes) FindByID(_ context.Context, id string) (domain.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[id]
	if !ok {
		return domain.Quote{}, errNotFound
	}
	return q, nil
}

type memWorkOrders struct{ *memoryStore }

var _ repositories.WorkOrderRepository = (*memWorkOrders)(nil)

func (r *memWorkOrders) Insert(_ context.Context, wo domain.WorkOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workOrders[wo.ID]; exists {
		return fakeRepositoryError{conflict: true}
	}
	r.workOrders[wo.ID] = wo
	return nil
}

func (r *memWorkOrders) FindByID(_ context.Context, id string) (domain.WorkOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("workorder", id); err != nil {
		return domain.WorkOrder{}, err
	}
	wo, ok := r.workOrders[id]
	if !ok {
		return domain.WorkOrder{}, errNotFound
	}
	return wo, nil
}

func (r *memWorkOrders) UpdateStatus(_ context.Context, id string, status domain.WorkOrderStatus, completedAt *time.Time, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wo, ok := r.workOrders[id]
	if !ok {
		return errNotFound
	}
	wo.Status = status
	if completedAt != nil {
		c := *completedAt
		wo.CompletedAt = &c
	}
	wo.UpdatedAt = updatedAt
	r.workOrders[id] = wo
	return nil
}

func (r *memWorkOrders) ListByStatus(_ context.Context, statuses []domain.WorkOrderStatus) ([]domain.WorkOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[domain.WorkOrderStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []domain.WorkOrder
	for _, wo := range r.workOrders {
		if want[wo.Status] {
			out = append(out, wo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memWorkOrders) ListByOrder(_ context.Context, orderID string) ([]domain.WorkOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WorkOrder
	for _, wo := range r.workOrders {
		if wo.OrderID == orderID {
			out = append(out, wo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memRecords struct{ *memoryStore }

func (r *memRecords) Upsert(_ context.Context, rec domain.SLARecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.WorkOrderID] = rec
	return nil
}

func (r *memRecords) FindByWorkOrder(_ context.Context, id string) (domain.SLARecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.SLARecord{}, errNotFound
	}
	return rec, nil
}

func (r *memRecords) ListByWorkOrders(_ context.Context, ids []string) ([]domain.SLARecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SLARecord
	for _, id := range ids {
		if rec, ok := r.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memPayouts struct{ *memoryStore }

func (r *memPayouts) Insert(_ context.Context, p domain.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payouts {
		if existing.Status == domain.PayoutStatusReversed {
			continue
		}
		for _, claimed := range existing.WorkOrderIDs {
			for _, id := range p.WorkOrderIDs {
				if id == claimed {
					return fakeRepositoryError{conflict: true}
				}
			}
		}
	}
	r.payouts[p.ID] = p
	return nil
}

func (r *memPayouts) Update(_ context.Context, p domain.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payouts[p.ID]; !ok {
		return errNotFound
	}
	r.payouts[p.ID] = p
	return nil
}

func (r *memPayouts) FindByID(_ context.Context, id string) (domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payouts[id]
	if !ok {
		return domain.Payout{}, errNotFound
	}
	return p, nil
}

func (r *memPayouts) FindByTransferID(_ context.Context, transferID string) (domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payouts {
		if p.TransferID == transferID {
			return p, nil
		}
	}
	return domain.Payout{}, errNotFound
}

type memPipelines struct{ *memoryStore }

func (r *memPipelines) FindByID(_ context.Context, id string) (domain.Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pipelines[id]
	if !ok {
		return domain.Pipeline{}, errNotFound
	}
	return p, nil
}

type memFulfillments struct{ *memoryStore }

var _ repositories.FulfillmentRepository = (*memFulfillments)(nil)

func (r *memFulfillments) Insert(_ context.Context, f domain.Fulfillment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.fulfillments {
		if existing.PipelineID == f.PipelineID {
			return fakeRepositoryError{conflict: true}
		}
	}
	r.fulfillments[f.ID] = f
	return nil
}

func (r *memFulfillments) Update(_ context.Context, f domain.Fulfillment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fulfillments[f.ID] = f
	return nil
}

func (r *memFulfillments) FindByID(_ context.Context, id string) (domain.Fulfillment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fulfillments[id]
	if !ok {
		return domain.Fulfillment{}, errNotFound
	}
	return f, nil
}

func (r *memFulfillments) ListByBrand(_ context.Context, brandID string, _ domain.Pagination) (domain.CursorPage[domain.Fulfillment], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var page domain.CursorPage[domain.Fulfillment]
	for _, f := range r.fulfillments {
		if f.BrandID == brandID {
			page.Items = append(page.Items, f)
		}
	}
	sort.Slice(page.Items, func(i, j int) bool { return page.Items[i].ID < page.Items[j].ID })
	return page, nil
}

type publishedEvent struct {
	topic   string
	payload any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, topic string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, publishedEvent{topic: topic, payload: payload})
	return c.err
}

func (c *capturePublisher) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.topic)
	}
	return out
}

type captureLogger struct {
	mu     sync.Mutex
	events []string
}

func (c *captureLogger) log(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureLogger) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

type writtenReport struct {
	kind   storage.ReportKind
	params storage.PathParams
	report any
}

type captureReports struct {
	reports []writtenReport
	err     error
}

func (c *captureReports) WriteReport(_ context.Context, kind storage.ReportKind, params storage.PathParams, report any) (string, error) {
	c.reports = append(c.reports, writtenReport{kind: kind, params: params, report: report})
	if c.err != nil {
		return "", c.err
	}
	return "gs://exports/" + string(kind) + "/" + params.RunID + ".json", nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + string(rune('a'+n-1))
	}
}

func ptr[T any](v T) *T { return &v }
