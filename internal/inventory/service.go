// Package inventory owns product stock levels and their status labels.
package inventory

import (
	"context"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/storage"
	"github.com/ivanstrassberg/storefront/internal/types"
)

const DefaultLowStockThreshold = 10

type Store interface {
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	ListProducts(ctx context.Context, f storage.ProductFilter) ([]types.Product, error)
	SetStock(ctx context.Context, id string, stock int) error
	DecrementStock(ctx context.Context, id string, n int) error
}

// Item is one row of the admin inventory view.
type Item struct {
	types.Product
	StockStatus types.StockStatus `json:"stock_status"`
}

type Service struct {
	store     Store
	threshold int
}

// NewService returns an inventory service. A threshold below one falls back
// to DefaultLowStockThreshold.
func NewService(store Store, lowStockThreshold int) *Service {
	if lowStockThreshold < 1 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &Service{store: store, threshold: lowStockThreshold}
}

func (s *Service) WithStore(store Store) *Service {
	return &Service{store: store, threshold: s.threshold}
}

func (s *Service) Threshold() int { return s.threshold }

func (s *Service) Classify(stock int) types.StockStatus {
	switch {
	case stock <= 0:
		return types.OutOfStock
	case stock <= s.threshold:
		return types.LowStock
	default:
		return types.InStock
	}
}

func (s *Service) List(ctx context.Context, id auth.Identity) ([]Item, error) {
	const op = "inventory.List"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	products, err := s.store.ListProducts(ctx, storage.ProductFilter{Sort: storage.SortName})
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	items := make([]Item, 0, len(products))
	for _, p := range products {
		items = append(items, Item{Product: p, StockStatus: s.Classify(p.Stock)})
	}
	return items, nil
}

// UpdateStock sets the absolute stock count of a product.
func (s *Service) UpdateStock(ctx context.Context, id auth.Identity, productID string, stock int) (*Item, error) {
	const op = "inventory.UpdateStock"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	if stock < 0 {
		return nil, apperr.Validation(op, "stock cannot be negative")
	}
	if err := s.store.SetStock(ctx, productID, stock); err != nil {
		return nil, apperr.Internal(op, err)
	}
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return &Item{Product: *p, StockStatus: s.Classify(p.Stock)}, nil
}

// Decrement takes purchased units out of stock. Any line that would drive
// stock below zero fails the whole call with Conflict; run it inside a
// transaction so earlier lines roll back.
func (s *Service) Decrement(ctx context.Context, items []types.OrderItem) error {
	const op = "inventory.Decrement"
	for _, item := range items {
		if item.Quantity < 1 {
			return apperr.Validation(op, "quantity must be at least 1")
		}
		if err := s.store.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			return apperr.Internal(op, err)
		}
	}
	return nil
}

func requireAdmin(op string, id auth.Identity) error {
	if !id.Authenticated() {
		return apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	if !id.IsAdmin() {
		return apperr.E(op, apperr.ErrForbidden, "admin only")
	}
	return nil
}
