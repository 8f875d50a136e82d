package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/config"
	"github.com/ivanstrassberg/storefront/internal/types"
)

type PostgresStore struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

func NewPostgresStore(cfg config.DBConfig) (*PostgresStore, error) {
	sqlDB, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logLevel := gormlogger.Silent
	if cfg.LogQueries {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialise gorm: %w", err)
	}
	return &PostgresStore{db: db, sqlDB: sqlDB}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&types.Category{},
		&types.Product{},
		&types.User{},
		&types.Cart{},
		&types.CartItem{},
		&types.Order{},
		&types.OrderItem{},
		&types.PageContent{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.sqlDB.Close()
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Storage) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStore{db: tx, sqlDB: s.sqlDB})
	})
}

// translate maps driver errors onto the apperr kinds.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return &apperr.Error{Op: op, Kind: apperr.ErrConflict, Message: "already exists", Err: err}
		case "23503":
			return &apperr.Error{Op: op, Kind: apperr.ErrConflict, Message: "still referenced by other records", Err: err}
		case "23514":
			return &apperr.Error{Op: op, Kind: apperr.ErrValidation, Message: "value violates a constraint", Err: err}
		}
	}
	return apperr.Internal(op, err)
}

func lookupErr(op, what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, what)
	}
	return translate(op, err)
}

// validID rejects keys postgres would refuse to cast to uuid.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Categories

func (s *PostgresStore) ListCategories(ctx context.Context) ([]types.Category, error) {
	const op = "storage.ListCategories"
	cats := []types.Category{}
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&cats).Error; err != nil {
		return nil, translate(op, err)
	}
	var counts []struct {
		CategoryID string
		N          int64
	}
	err := s.db.WithContext(ctx).Model(&types.Product{}).
		Select("category_id, COUNT(*) AS n").
		Group("category_id").
		Scan(&counts).Error
	if err != nil {
		return nil, translate(op, err)
	}
	byID := make(map[string]int64, len(counts))
	for _, c := range counts {
		byID[c.CategoryID] = c.N
	}
	for i := range cats {
		cats[i].ProductCount = byID[cats[i].ID]
	}
	return cats, nil
}

func (s *PostgresStore) GetCategory(ctx context.Context, id string) (*types.Category, error) {
	const op = "storage.GetCategory"
	if !validID(id) {
		return nil, apperr.NotFound(op, "category")
	}
	var c types.Category
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, lookupErr(op, "category", err)
	}
	if err := s.db.WithContext(ctx).Model(&types.Product{}).Where("category_id = ?", id).Count(&c.ProductCount).Error; err != nil {
		return nil, translate(op, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetCategoryByName(ctx context.Context, name string) (*types.Category, error) {
	var c types.Category
	if err := s.db.WithContext(ctx).First(&c, "name = ?", name).Error; err != nil {
		return nil, lookupErr("storage.GetCategoryByName", "category", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateCategory(ctx context.Context, c *types.Category) error {
	if c.ID == "" {
		c.ID = types.NewID()
	}
	return translate("storage.CreateCategory", s.db.WithContext(ctx).Create(c).Error)
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, c *types.Category) error {
	const op = "storage.UpdateCategory"
	if !validID(c.ID) {
		return apperr.NotFound(op, "category")
	}
	res := s.db.WithContext(ctx).Model(c).Select("name", "description", "updated_at").Updates(c)
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "category")
	}
	return nil
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, id string) error {
	const op = "storage.DeleteCategory"
	if !validID(id) {
		return apperr.NotFound(op, "category")
	}
	res := s.db.WithContext(ctx).Delete(&types.Category{}, "id = ?", id)
	if res.Error != nil {
		err := translate(op, res.Error)
		if apperr.IsConflict(err) {
			return apperr.E(op, apperr.ErrConflict, "category still has products")
		}
		return err
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "category")
	}
	return nil
}

// Products

func applyProductFilter(q *gorm.DB, f ProductFilter) *gorm.DB {
	if f.CategoryID != "" {
		q = q.Where("category_id = ?", f.CategoryID)
	}
	if term := strings.TrimSpace(f.Query); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}
	if f.MinPrice != nil {
		q = q.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("price <= ?", *f.MaxPrice)
	}
	if f.InStock {
		q = q.Where("stock > 0")
	}
	if f.ActiveOnly {
		q = q.Where("status = ?", types.ProductActive)
	}
	return q
}

func (s *PostgresStore) ListProducts(ctx context.Context, f ProductFilter) ([]types.Product, error) {
	if f.CategoryID != "" && !validID(f.CategoryID) {
		return []types.Product{}, nil
	}
	q := applyProductFilter(s.db.WithContext(ctx).Preload("Category"), f)
	switch f.Sort {
	case SortPriceAsc:
		q = q.Order("price ASC")
	case SortPriceDesc:
		q = q.Order("price DESC")
	case SortName:
		q = q.Order("name ASC")
	default:
		q = q.Order("created_at DESC")
	}
	q = q.Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	products := []types.Product{}
	if err := q.Find(&products).Error; err != nil {
		return nil, translate("storage.ListProducts", err)
	}
	return products, nil
}

func (s *PostgresStore) CountProducts(ctx context.Context, f ProductFilter) (int64, error) {
	if f.CategoryID != "" && !validID(f.CategoryID) {
		return 0, nil
	}
	var n int64
	q := applyProductFilter(s.db.WithContext(ctx).Model(&types.Product{}), f)
	if err := q.Count(&n).Error; err != nil {
		return 0, translate("storage.CountProducts", err)
	}
	return n, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	const op = "storage.GetProduct"
	if !validID(id) {
		return nil, apperr.NotFound(op, "product")
	}
	var p types.Product
	if err := s.db.WithContext(ctx).Preload("Category").First(&p, "id = ?", id).Error; err != nil {
		return nil, lookupErr(op, "product", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *types.Product) error {
	if p.ID == "" {
		p.ID = types.NewID()
	}
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error
	return translate("storage.CreateProduct", err)
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p *types.Product) error {
	const op = "storage.UpdateProduct"
	if !validID(p.ID) {
		return apperr.NotFound(op, "product")
	}
	res := s.db.WithContext(ctx).Model(p).
		Select("name", "description", "price", "stock", "status", "category_id", "images", "updated_at").
		Updates(p)
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "product")
	}
	return nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	const op = "storage.DeleteProduct"
	if !validID(id) {
		return apperr.NotFound(op, "product")
	}
	res := s.db.WithContext(ctx).Delete(&types.Product{}, "id = ?", id)
	if res.Error != nil {
		err := translate(op, res.Error)
		if apperr.IsConflict(err) {
			return apperr.E(op, apperr.ErrConflict, "product is referenced by orders; deactivate it instead")
		}
		return err
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "product")
	}
	return nil
}

func (s *PostgresStore) SetStock(ctx context.Context, id string, stock int) error {
	const op = "storage.SetStock"
	if !validID(id) {
		return apperr.NotFound(op, "product")
	}
	res := s.db.WithContext(ctx).Model(&types.Product{}).Where("id = ?", id).Update("stock", stock)
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "product")
	}
	return nil
}

func (s *PostgresStore) DecrementStock(ctx context.Context, id string, n int) error {
	const op = "storage.DecrementStock"
	if !validID(id) {
		return apperr.NotFound(op, "product")
	}
	res := s.db.WithContext(ctx).Model(&types.Product{}).
		Where("id = ? AND stock >= ?", id, n).
		Update("stock", gorm.Expr("stock - ?", n))
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		p, err := s.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		return apperr.E(op, apperr.ErrConflict, "insufficient stock for %s", p.Name)
	}
	return nil
}

// Users

func (s *PostgresStore) ListUsers(ctx context.Context) ([]types.User, error) {
	users := []types.User{}
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, translate("storage.ListUsers", err)
	}
	return users, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	const op = "storage.GetUser"
	if !validID(id) {
		return nil, apperr.NotFound(op, "user")
	}
	var u types.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, lookupErr(op, "user", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	var u types.User
	if err := s.db.WithContext(ctx).First(&u, "email = ?", email).Error; err != nil {
		return nil, lookupErr("storage.GetUserByEmail", "user", err)
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *types.User) error {
	if u.ID == "" {
		u.ID = types.NewID()
	}
	err := s.db.WithContext(ctx).Create(u).Error
	if err != nil {
		err = translate("storage.CreateUser", err)
		if apperr.IsConflict(err) {
			return apperr.E("storage.CreateUser", apperr.ErrConflict, "email already registered")
		}
	}
	return err
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *types.User) error {
	const op = "storage.UpdateUser"
	if !validID(u.ID) {
		return apperr.NotFound(op, "user")
	}
	res := s.db.WithContext(ctx).Model(u).Select("name", "email", "password", "role", "status", "updated_at").Updates(u)
	if res.Error != nil {
		err := translate(op, res.Error)
		if apperr.IsConflict(err) {
			return apperr.E(op, apperr.ErrConflict, "email already registered")
		}
		return err
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "user")
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	const op = "storage.DeleteUser"
	if !validID(id) {
		return apperr.NotFound(op, "user")
	}
	res := s.db.WithContext(ctx).Delete(&types.User{}, "id = ?", id)
	if res.Error != nil {
		err := translate(op, res.Error)
		if apperr.IsConflict(err) {
			return apperr.E(op, apperr.ErrConflict, "user has orders; deactivate the account instead")
		}
		return err
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "user")
	}
	return nil
}

func (s *PostgresStore) CountUsersByRole(ctx context.Context, role types.Role) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&types.User{}).Where("role = ?", role).Count(&n).Error; err != nil {
		return 0, translate("storage.CountUsersByRole", err)
	}
	return n, nil
}

// Carts

func (s *PostgresStore) GetOrCreateCart(ctx context.Context, userID string) (*types.Cart, error) {
	const op = "storage.GetOrCreateCart"
	db := s.db.WithContext(ctx)
	cart := types.Cart{ID: types.NewID(), UserID: userID}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Omit(clause.Associations).Create(&cart).Error
	if err != nil {
		return nil, translate(op, err)
	}

	var out types.Cart
	err = db.Preload("Items", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("created_at ASC")
	}).Preload("Items.Product").
		First(&out, "user_id = ?", userID).Error
	if err != nil {
		return nil, lookupErr(op, "cart", err)
	}
	return &out, nil
}

func (s *PostgresStore) GetCartItem(ctx context.Context, itemID string) (*types.CartItem, error) {
	const op = "storage.GetCartItem"
	if !validID(itemID) {
		return nil, apperr.NotFound(op, "cart item")
	}
	var item types.CartItem
	if err := s.db.WithContext(ctx).Preload("Product").First(&item, "id = ?", itemID).Error; err != nil {
		return nil, lookupErr(op, "cart item", err)
	}
	return &item, nil
}

func (s *PostgresStore) AddCartItem(ctx context.Context, cartID, productID string, qty int) error {
	item := types.CartItem{ID: types.NewID(), CartID: cartID, ProductID: productID, Quantity: qty}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cart_id"}, {Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("cart_items.quantity + excluded.quantity"),
			"updated_at": time.Now().UTC(),
		}),
	}).Omit(clause.Associations).Create(&item).Error
	return translate("storage.AddCartItem", err)
}

func (s *PostgresStore) SetCartItemQuantity(ctx context.Context, itemID string, qty int) error {
	const op = "storage.SetCartItemQuantity"
	if !validID(itemID) {
		return apperr.NotFound(op, "cart item")
	}
	res := s.db.WithContext(ctx).Model(&types.CartItem{}).Where("id = ?", itemID).Update("quantity", qty)
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "cart item")
	}
	return nil
}

func (s *PostgresStore) DeleteCartItem(ctx context.Context, itemID string) error {
	const op = "storage.DeleteCartItem"
	if !validID(itemID) {
		return apperr.NotFound(op, "cart item")
	}
	res := s.db.WithContext(ctx).Delete(&types.CartItem{}, "id = ?", itemID)
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "cart item")
	}
	return nil
}

func (s *PostgresStore) ClearCart(ctx context.Context, cartID string) error {
	err := s.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&types.CartItem{}).Error
	return translate("storage.ClearCart", err)
}

// Orders

func (s *PostgresStore) CreateOrder(ctx context.Context, o *types.Order) error {
	if o.ID == "" {
		o.ID = types.NewID()
	}
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = types.NewID()
		}
		o.Items[i].OrderID = o.ID
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(o).Error; err != nil {
			return err
		}
		if len(o.Items) == 0 {
			return nil
		}
		return tx.Omit(clause.Associations).Create(&o.Items).Error
	})
	return translate("storage.CreateOrder", err)
}

func (s *PostgresStore) orderQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("product_name ASC") }).
		Preload("User")
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	const op = "storage.GetOrder"
	if !validID(id) {
		return nil, apperr.NotFound(op, "order")
	}
	var o types.Order
	if err := s.orderQuery(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, lookupErr(op, "order", err)
	}
	return &o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, f OrderFilter) ([]types.Order, error) {
	q := s.orderQuery(ctx).Order("created_at DESC").Order("id ASC")
	if f.UserID != "" {
		if !validID(f.UserID) {
			return []types.Order{}, nil
		}
		q = q.Where("user_id = ?", f.UserID)
	}
	orders := []types.Order{}
	if err := q.Find(&orders).Error; err != nil {
		return nil, translate("storage.ListOrders", err)
	}
	return orders, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, from, to types.OrderStatus) error {
	const op = "storage.UpdateOrderStatus"
	if !validID(id) {
		return apperr.NotFound(op, "order")
	}
	res := s.db.WithContext(ctx).Model(&types.Order{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetOrder(ctx, id); err != nil {
			return err
		}
		return apperr.E(op, apperr.ErrConflict, "order status changed concurrently")
	}
	return nil
}

func (s *PostgresStore) FindOrderByPaymentReference(ctx context.Context, ref string) (*types.Order, error) {
	var o types.Order
	err := s.orderQuery(ctx).Where("payment->>'reference' = ?", ref).First(&o).Error
	if err != nil {
		return nil, lookupErr("storage.FindOrderByPaymentReference", "order", err)
	}
	return &o, nil
}

func (s *PostgresStore) DeleteAllOrders(ctx context.Context) (int64, error) {
	const op = "storage.DeleteAllOrders"
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&types.OrderItem{}).Error; err != nil {
			return err
		}
		res := all.Delete(&types.Order{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, translate(op, err)
	}
	return deleted, nil
}

func (s *PostgresStore) OrderStats(ctx context.Context) (OrderStats, error) {
	var row struct {
		Revenue string
		Orders  int64
	}
	err := s.db.WithContext(ctx).Model(&types.Order{}).
		Select("COALESCE(SUM(total), 0) AS revenue, COUNT(*) AS orders").
		Where("status <> ?", types.OrderCancelled).
		Scan(&row).Error
	if err != nil {
		return OrderStats{}, translate("storage.OrderStats", err)
	}
	revenue, err := decimal.NewFromString(row.Revenue)
	if err != nil {
		return OrderStats{}, apperr.Internal("storage.OrderStats", err)
	}
	return OrderStats{Revenue: revenue, Orders: row.Orders}, nil
}

// Content

func (s *PostgresStore) GetPageContent(ctx context.Context, page string) (*types.PageContent, error) {
	var pc types.PageContent
	if err := s.db.WithContext(ctx).First(&pc, "page = ?", page).Error; err != nil {
		return nil, lookupErr("storage.GetPageContent", "page content", err)
	}
	return &pc, nil
}

func (s *PostgresStore) UpsertPageContent(ctx context.Context, pc *types.PageContent) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "page"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(pc).Error
	return translate("storage.UpsertPageContent", err)
}
