package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	pfirestore "github.com/Luneo19/luneo-platform-sub030/internal/platform/firestore"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
)

const (
	ordersCollection    = "orders"
	productsCollection  = "products"
	pipelinesCollection = "pipelines"
)

type orderDocument struct {
	ID        string    `firestore:"id"`
	BrandID   string    `firestore:"brandId"`
	ProductID string    `firestore:"productId"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type productDocument struct {
	ID             string `firestore:"id"`
	Name           string `firestore:"name"`
	BaseCostCents  int64  `firestore:"baseCostCents"`
	LaborCostCents int64  `firestore:"laborCostCents"`
}

type pipelineDocument struct {
	ID        string    `firestore:"id"`
	BrandID   string    `firestore:"brandId"`
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// OrderRepository reads marketplace orders owned by the commerce platform.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

// FindByID loads an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ID:        doc.ID,
		BrandID:   doc.BrandID,
		ProductID: doc.ProductID,
		Status:    doc.Status,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}

// CatalogRepository reads product costs.
type CatalogRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection)}, nil
}

// FindProduct loads a product.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:             doc.ID,
		Name:           doc.Name,
		BaseCostCents:  doc.BaseCostCents,
		LaborCostCents: doc.LaborCostCents,
	}, nil
}

// PipelineRepository reads production pipelines.
type PipelineRepository struct {
	base *pfirestore.BaseRepository[pipelineDocument]
}

var _ repositories.PipelineRepository = (*PipelineRepository)(nil)

// NewPipelineRepository constructs a Firestore-backed pipeline repository.
func NewPipelineRepository(provider *pfirestore.Provider) (*PipelineRepository, error) {
	if provider == nil {
		return nil, errors.New("pipeline repository requires firestore provider")
	}
	return &PipelineRepository{base: pfirestore.NewBaseRepository[pipelineDocument](provider, pipelinesCollection)}, nil
}

// FindByID loads a pipeline.
func (r *PipelineRepository) FindByID(ctx context.Context, pipelineID string) (domain.Pipeline, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(pipelineID))
	if err != nil {
		return domain.Pipeline{}, err
	}
	return domain.Pipeline{
		ID:        doc.ID,
		BrandID:   doc.BrandID,
		OrderID:   doc.OrderID,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}
