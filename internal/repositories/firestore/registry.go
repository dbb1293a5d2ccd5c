package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/Luneo19/luneo-platform-sub030/internal/platform/firestore"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

// Registry wires every Firestore repository against one shared provider.
type Registry struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork

	partners     *PartnerRepository
	orders       *OrderRepository
	catalog      *CatalogRepository
	quotes       *QuoteRepository
	workOrders   *WorkOrderRepository
	slaRecords   *SLARecordRepository
	payouts      *PayoutRepository
	pipelines    *PipelineRepository
	fulfillments *FulfillmentRepository
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	checks []repositories.DependencyCheck
}

// WithHealthChecks appends dependency probes reported next to Firestore on readiness.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.checks = append(cfg.checks, checks...)
	}
}

// NewRegistry constructs all repositories. The provider is owned by the registry and closed with it.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	var cfg registryConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	reg := &Registry{
		provider: provider,
		uow:      pfirestore.NewUnitOfWork(provider),
	}

	var err error
	if reg.partners, err = NewPartnerRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if reg.quotes, err = NewQuoteRepository(provider); err != nil {
		return nil, err
	}
	if reg.workOrders, err = NewWorkOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.slaRecords, err = NewSLARecordRepository(provider); err != nil {
		return nil, err
	}
	if reg.payouts, err = NewPayoutRepository(provider); err != nil {
		return nil, err
	}
	if reg.pipelines, err = NewPipelineRepository(provider); err != nil {
		return nil, err
	}
	if reg.fulfillments, err = NewFulfillmentRepository(provider); err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:  "firestore",
		Check: provider.Ping,
	}}, cfg.checks...)
	if reg.health, err = repositories.NewDependencyHealthRepository(checks); err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	return reg, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx groups repository calls in one Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

func (r *Registry) Partners() repositories.PartnerRepository         { return r.partners }
func (r *Registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *Registry) Catalog() repositories.CatalogRepository          { return r.catalog }
func (r *Registry) Quotes() repositories.QuoteRepository             { return r.quotes }
func (r *Registry) WorkOrders() repositories.WorkOrderRepository     { return r.workOrders }
func (r *Registry) SLARecords() repositories.SLARecordRepository     { return r.slaRecords }
func (r *Registry) Payouts() repositories.PayoutRepository           { return r.payouts }
func (r *Registry) Pipelines() repositories.PipelineRepository       { return r.pipelines }
func (r *Registry) Fulfillments() repositories.FulfillmentRepository { return r.fulfillments }
func (r *Registry) Health() repositories.HealthRepository            { return r.health }
