// Package dashboard aggregates the figures shown on the admin home page.
package dashboard

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/storage"
	"github.com/ivanstrassberg/storefront/internal/types"
)

type Store interface {
	OrderStats(ctx context.Context) (storage.OrderStats, error)
	CountUsersByRole(ctx context.Context, role types.Role) (int64, error)
	CountProducts(ctx context.Context, f storage.ProductFilter) (int64, error)
}

type Stats struct {
	// Revenue sums the totals of orders that were not cancelled.
	Revenue decimal.Decimal `json:"total_revenue"`
	Sales   int64           `json:"total_sales"`
	// Customers counts accounts with the CUSTOMER role.
	Customers int64 `json:"total_customers"`
	// ActiveProducts counts active products that are in stock.
	ActiveProducts int64 `json:"active_products"`
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Stats(ctx context.Context, id auth.Identity) (*Stats, error) {
	const op = "dashboard.Stats"
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	if !id.IsAdmin() {
		return nil, apperr.E(op, apperr.ErrForbidden, "admin only")
	}

	orders, err := s.store.OrderStats(ctx)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	customers, err := s.store.CountUsersByRole(ctx, types.RoleCustomer)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	active, err := s.store.CountProducts(ctx, storage.ProductFilter{InStock: true, ActiveOnly: true})
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return &Stats{
		Revenue:        orders.Revenue,
		Sales:          orders.Orders,
		Customers:      customers,
		ActiveProducts: active,
	}, nil
}
