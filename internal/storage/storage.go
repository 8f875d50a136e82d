// Package storage is the persistence gateway. Services depend on the narrow
// per-entity interfaces; Storage bundles them for wiring and transactions.
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ivanstrassberg/storefront/internal/types"
)

type Storage interface {
	CategoryStore
	ProductStore
	UserStore
	CartStore
	OrderStore
	ContentStore

	// WithTx runs fn against a transaction-bound Storage. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Storage) error) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type CategoryStore interface {
	// ListCategories returns every category ordered by name, with
	// ProductCount filled in.
	ListCategories(ctx context.Context) ([]types.Category, error)
	GetCategory(ctx context.Context, id string) (*types.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*types.Category, error)
	CreateCategory(ctx context.Context, c *types.Category) error
	UpdateCategory(ctx context.Context, c *types.Category) error
	DeleteCategory(ctx context.Context, id string) error
}

type ProductStore interface {
	ListProducts(ctx context.Context, f ProductFilter) ([]types.Product, error)
	CountProducts(ctx context.Context, f ProductFilter) (int64, error)
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	CreateProduct(ctx context.Context, p *types.Product) error
	UpdateProduct(ctx context.Context, p *types.Product) error
	DeleteProduct(ctx context.Context, id string) error
	SetStock(ctx context.Context, id string, stock int) error
	// DecrementStock lowers stock by n only if at least n units remain.
	DecrementStock(ctx context.Context, id string, n int) error
}

type UserStore interface {
	ListUsers(ctx context.Context) ([]types.User, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	CreateUser(ctx context.Context, u *types.User) error
	UpdateUser(ctx context.Context, u *types.User) error
	DeleteUser(ctx context.Context, id string) error
	CountUsersByRole(ctx context.Context, role types.Role) (int64, error)
}

type CartStore interface {
	// GetOrCreateCart returns the user's cart with items and their products
	// loaded, creating an empty cart on first use.
	GetOrCreateCart(ctx context.Context, userID string) (*types.Cart, error)
	GetCartItem(ctx context.Context, itemID string) (*types.CartItem, error)
	// AddCartItem inserts the line or adds qty to the existing line for the
	// same product.
	AddCartItem(ctx context.Context, cartID, productID string, qty int) error
	SetCartItemQuantity(ctx context.Context, itemID string, qty int) error
	DeleteCartItem(ctx context.Context, itemID string) error
	ClearCart(ctx context.Context, cartID string) error
}

type OrderStore interface {
	// CreateOrder persists the order and its items atomically.
	CreateOrder(ctx context.Context, o *types.Order) error
	GetOrder(ctx context.Context, id string) (*types.Order, error)
	// ListOrders returns orders newest first.
	ListOrders(ctx context.Context, f OrderFilter) ([]types.Order, error)
	// UpdateOrderStatus moves the order to `to` only if its status is still
	// `from`.
	UpdateOrderStatus(ctx context.Context, id string, from, to types.OrderStatus) error
	FindOrderByPaymentReference(ctx context.Context, ref string) (*types.Order, error)
	DeleteAllOrders(ctx context.Context) (int64, error)
	OrderStats(ctx context.Context) (OrderStats, error)
}

type ContentStore interface {
	GetPageContent(ctx context.Context, page string) (*types.PageContent, error)
	UpsertPageContent(ctx context.Context, pc *types.PageContent) error
}

// Product sort keys.
const (
	SortNewest    = "newest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortName      = "name"
)

type ProductFilter struct {
	CategoryID string
	Query      string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	InStock    bool
	ActiveOnly bool
	Sort       string
	Limit      int
	Offset     int
}

type OrderFilter struct {
	UserID string
}

// OrderStats aggregates every order that was not cancelled.
type OrderStats struct {
	Revenue decimal.Decimal
	Orders  int64
}
