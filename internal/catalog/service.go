// Package catalog manages categories and products and serves the storefront
// listing.
package catalog

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/spreadsheet"
	"github.com/ivanstrassberg/storefront/internal/storage"
	"github.com/ivanstrassberg/storefront/internal/types"
	"github.com/ivanstrassberg/storefront/internal/validate"
)

const MaxPageSize = 100

type Store interface {
	storage.CategoryStore
	storage.ProductStore
	WithTx(ctx context.Context, fn func(storage.Storage) error) error
}

type CategoryInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type ProductInput struct {
	Name        string              `json:"name" validate:"required,max=200"`
	Description string              `json:"description" validate:"max=5000"`
	Price       decimal.Decimal     `json:"price"`
	Stock       int                 `json:"stock" validate:"min=0"`
	Status      types.ProductStatus `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
	CategoryID  string              `json:"category_id" validate:"required"`
	Images      types.ImageList     `json:"images"`
}

// ProductPage is one page of a product listing.
type ProductPage struct {
	Items  []types.Product `json:"items"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// ImportResult summarises a spreadsheet import.
type ImportResult struct {
	Created int                    `json:"created"`
	Updated int                    `json:"updated"`
	Skipped []spreadsheet.RowError `json:"skipped"`
}

type Service struct {
	store    Store
	validate *validator.Validate
}

func NewService(store Store) *Service {
	return &Service{store: store, validate: validate.New()}
}

func (s *Service) check(op string, v any) error {
	if err := s.validate.Struct(v); err != nil {
		return apperr.Validation(op, "invalid fields: %s", validate.Fields(err))
	}
	return nil
}

// Categories

func (s *Service) ListCategories(ctx context.Context) ([]types.Category, error) {
	list, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, apperr.Internal("catalog.ListCategories", err)
	}
	return list, nil
}

func (s *Service) GetCategory(ctx context.Context, categoryID string) (*types.Category, error) {
	c, err := s.store.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, apperr.Internal("catalog.GetCategory", err)
	}
	return c, nil
}

func (s *Service) CreateCategory(ctx context.Context, id auth.Identity, in CategoryInput) (*types.Category, error) {
	const op = "catalog.CreateCategory"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(op, in); err != nil {
		return nil, err
	}
	c := &types.Category{ID: types.NewID(), Name: in.Name, Description: strings.TrimSpace(in.Description)}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		if apperr.IsConflict(err) {
			return nil, apperr.E(op, apperr.ErrConflict, "category %q already exists", in.Name)
		}
		return nil, apperr.Internal(op, err)
	}
	return c, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id auth.Identity, categoryID string, in CategoryInput) (*types.Category, error) {
	const op = "catalog.UpdateCategory"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(op, in); err != nil {
		return nil, err
	}
	c, err := s.store.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	c.Name = in.Name
	c.Description = strings.TrimSpace(in.Description)
	if err := s.store.UpdateCategory(ctx, c); err != nil {
		if apperr.IsConflict(err) {
			return nil, apperr.E(op, apperr.ErrConflict, "category %q already exists", in.Name)
		}
		return nil, apperr.Internal(op, err)
	}
	return c, nil
}

// DeleteCategory refuses while any product still belongs to the category.
func (s *Service) DeleteCategory(ctx context.Context, id auth.Identity, categoryID string) error {
	const op = "catalog.DeleteCategory"
	if err := requireAdmin(op, id); err != nil {
		return err
	}
	if err := s.store.DeleteCategory(ctx, categoryID); err != nil {
		return apperr.Internal(op, err)
	}
	return nil
}

// Products

// ParseProductQuery reads listing filters from a query string.
func ParseProductQuery(q url.Values) (storage.ProductFilter, error) {
	const op = "catalog.ParseProductQuery"
	f := storage.ProductFilter{
		CategoryID: strings.TrimSpace(q.Get("category")),
		Query:      strings.TrimSpace(q.Get("q")),
		Sort:       strings.TrimSpace(q.Get("sort")),
	}
	for key, dst := range map[string]**decimal.Decimal{"min_price": &f.MinPrice, "max_price": &f.MaxPrice} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return f, apperr.Validation(op, "%s must be a non-negative number", key)
		}
		*dst = &d
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return f, apperr.Validation(op, "min_price is greater than max_price")
	}
	if raw := q.Get("in_stock"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, apperr.Validation(op, "in_stock must be true or false")
		}
		f.InStock = b
	}
	switch f.Sort {
	case "", storage.SortNewest, storage.SortPriceAsc, storage.SortPriceDesc, storage.SortName:
	default:
		return f, apperr.Validation(op, "unknown sort %q", f.Sort)
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, apperr.Validation(op, "%s must be a non-negative integer", key)
		}
		*dst = n
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f, nil
}

// ListProducts is the storefront listing: active products only.
func (s *Service) ListProducts(ctx context.Context, f storage.ProductFilter) (*ProductPage, error) {
	f.ActiveOnly = true
	return s.listProducts(ctx, "catalog.ListProducts", f)
}

// ListAllProducts includes inactive products.
func (s *Service) ListAllProducts(ctx context.Context, id auth.Identity, f storage.ProductFilter) (*ProductPage, error) {
	const op = "catalog.ListAllProducts"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	f.ActiveOnly = false
	return s.listProducts(ctx, op, f)
}

func (s *Service) listProducts(ctx context.Context, op string, f storage.ProductFilter) (*ProductPage, error) {
	items, err := s.store.ListProducts(ctx, f)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	total, err := s.store.CountProducts(ctx, f)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return &ProductPage{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// GetProduct hides inactive products from everyone but admins.
func (s *Service) GetProduct(ctx context.Context, id auth.Identity, productID string) (*types.Product, error) {
	const op = "catalog.GetProduct"
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if p.Status != types.ProductActive && !id.IsAdmin() {
		return nil, apperr.NotFound(op, "product")
	}
	return p, nil
}

func (s *Service) checkProduct(ctx context.Context, op string, in *ProductInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.check(op, *in); err != nil {
		return err
	}
	if in.Price.IsNegative() {
		return apperr.Validation(op, "price cannot be negative")
	}
	if in.Status == "" {
		in.Status = types.ProductActive
	}
	if in.Images == nil {
		in.Images = types.ImageList{}
	}
	if _, err := s.store.GetCategory(ctx, in.CategoryID); err != nil {
		if apperr.IsNotFound(err) {
			return apperr.Validation(op, "category does not exist")
		}
		return apperr.Internal(op, err)
	}
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, id auth.Identity, in ProductInput) (*types.Product, error) {
	const op = "catalog.CreateProduct"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	if err := s.checkProduct(ctx, op, &in); err != nil {
		return nil, err
	}
	p := &types.Product{
		ID:          types.NewID(),
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price.Round(2),
		Stock:       in.Stock,
		Status:      in.Status,
		CategoryID:  in.CategoryID,
		Images:      in.Images,
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return s.reload(ctx, op, p.ID)
}

func (s *Service) UpdateProduct(ctx context.Context, id auth.Identity, productID string, in ProductInput) (*types.Product, error) {
	const op = "catalog.UpdateProduct"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if err := s.checkProduct(ctx, op, &in); err != nil {
		return nil, err
	}
	p.Name = in.Name
	p.Description = in.Description
	p.Price = in.Price.Round(2)
	p.Stock = in.Stock
	p.Status = in.Status
	p.CategoryID = in.CategoryID
	p.Images = in.Images
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return s.reload(ctx, op, p.ID)
}

func (s *Service) reload(ctx context.Context, op, productID string) (*types.Product, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return p, nil
}

// DeleteProduct removes a product that was never ordered. Ordered products
// must be deactivated instead.
func (s *Service) DeleteProduct(ctx context.Context, id auth.Identity, productID string) error {
	const op = "catalog.DeleteProduct"
	if err := requireAdmin(op, id); err != nil {
		return err
	}
	if err := s.store.DeleteProduct(ctx, productID); err != nil {
		return apperr.Internal(op, err)
	}
	return nil
}

// ExportProducts writes every product, active or not, as a workbook.
func (s *Service) ExportProducts(ctx context.Context, id auth.Identity, w io.Writer) error {
	const op = "catalog.ExportProducts"
	if err := requireAdmin(op, id); err != nil {
		return err
	}
	products, err := s.store.ListProducts(ctx, storage.ProductFilter{Sort: storage.SortName})
	if err != nil {
		return apperr.Internal(op, err)
	}
	if err := spreadsheet.WriteProducts(w, products); err != nil {
		return apperr.Internal(op, err)
	}
	return nil
}

// ImportProducts creates or updates products from a workbook in one
// transaction. Rows with an ID that exists are updated; other rows are
// created. Categories are matched by name and created when missing.
func (s *Service) ImportProducts(ctx context.Context, id auth.Identity, r io.ReaderAt, size int64) (*ImportResult, error) {
	const op = "catalog.ImportProducts"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	rows, skipped, err := spreadsheet.ReadProducts(r, size)
	if err != nil {
		return nil, apperr.Validation(op, "could not read spreadsheet: %v", err)
	}
	res := &ImportResult{Skipped: skipped}
	if res.Skipped == nil {
		res.Skipped = []spreadsheet.RowError{}
	}
	err = s.store.WithTx(ctx, func(tx storage.Storage) error {
		categories := map[string]string{}
		for _, row := range rows {
			catID, err := categoryID(ctx, tx, categories, row.Category)
			if err != nil {
				return err
			}
			var existing *types.Product
			if row.ID != "" {
				existing, err = tx.GetProduct(ctx, row.ID)
				if err != nil && !apperr.IsNotFound(err) {
					return err
				}
			}
			if existing != nil {
				existing.Name = row.Name
				existing.Description = row.Description
				existing.Price = row.Price
				existing.Stock = row.Stock
				existing.Status = row.Status
				existing.CategoryID = catID
				existing.Images = row.Images
				if err := tx.UpdateProduct(ctx, existing); err != nil {
					return err
				}
				res.Updated++
				continue
			}
			p := &types.Product{
				ID:          types.NewID(),
				Name:        row.Name,
				Description: row.Description,
				Price:       row.Price,
				Stock:       row.Stock,
				Status:      row.Status,
				CategoryID:  catID,
				Images:      row.Images,
			}
			if err := tx.CreateProduct(ctx, p); err != nil {
				return err
			}
			res.Created++
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return res, nil
}

func categoryID(ctx context.Context, tx storage.Storage, cache map[string]string, name string) (string, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}
	c, err := tx.GetCategoryByName(ctx, name)
	if apperr.IsNotFound(err) {
		c = &types.Category{ID: types.NewID(), Name: name}
		err = tx.CreateCategory(ctx, c)
	}
	if err != nil {
		return "", err
	}
	cache[name] = c.ID
	return c.ID, nil
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
