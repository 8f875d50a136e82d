package storage

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/types"
)

// MemoryStore keeps everything in process. It backs dev mode and the service
// tests and enforces the same uniqueness and reference rules as the schema.
// Transactions are serialised and work on a private copy that replaces the
// committed state only when they succeed. Writes outside a transaction wait
// for the open one to finish.
type MemoryStore struct {
	mu   sync.RWMutex
	gate *sync.Mutex // nil on the private copy of a transaction
	data memState
	last time.Time
}

type memState struct {
	categories map[string]types.Category
	products   map[string]types.Product
	users      map[string]types.User
	carts      map[string]types.Cart
	cartItems  map[string]types.CartItem
	orders     map[string]types.Order
	pages      map[string]types.PageContent
}

func newMemState() memState {
	return memState{
		categories: map[string]types.Category{},
		products:   map[string]types.Product{},
		users:      map[string]types.User{},
		carts:      map[string]types.Cart{},
		cartItems:  map[string]types.CartItem{},
		orders:     map[string]types.Order{},
		pages:      map[string]types.PageContent{},
	}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{gate: &sync.Mutex{}, data: newMemState()}
}

func (st memState) clone() memState {
	out := newMemState()
	for k, v := range st.categories {
		out.categories[k] = v
	}
	for k, v := range st.products {
		out.products[k] = cloneProduct(v)
	}
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.carts {
		out.carts[k] = v
	}
	for k, v := range st.cartItems {
		out.cartItems[k] = v
	}
	for k, v := range st.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range st.pages {
		v.Content = bytes.Clone(v.Content)
		out.pages[k] = v
	}
	return out
}

func cloneProduct(p types.Product) types.Product {
	p.Images = append(types.ImageList{}, p.Images...)
	p.Category = nil
	return p
}

func cloneOrder(o types.Order) types.Order {
	o.Items = append([]types.OrderItem(nil), o.Items...)
	o.User = nil
	for i := range o.Items {
		o.Items[i].Product = nil
	}
	return o
}

// stamp returns a strictly increasing UTC time so creation order is stable.
// Callers hold mu.
func (s *MemoryStore) stamp() time.Time {
	t := time.Now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

type memTx struct {
	*MemoryStore
}

// Nested transactions join the outer one.
func (t memTx) WithTx(_ context.Context, fn func(Storage) error) error {
	return fn(t)
}

func (s *MemoryStore) WithTx(_ context.Context, fn func(Storage) error) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	s.mu.RLock()
	work := &MemoryStore{data: s.data.clone(), last: s.last}
	s.mu.RUnlock()

	if err := fn(memTx{work}); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = work.data
	s.last = work.last
	s.mu.Unlock()
	return nil
}

// lock takes the write lock. Outside a transaction it first waits for any
// open transaction so its commit cannot overwrite the write.
func (s *MemoryStore) lock() func() {
	if s.gate != nil {
		s.gate.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if s.gate != nil {
			s.gate.Unlock()
		}
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Ping(context.Context) error    { return nil }
func (s *MemoryStore) Close() error                  { return nil }

// Categories

func (s *MemoryStore) categoryCount(id string) int64 {
	var n int64
	for _, p := range s.data.products {
		if p.CategoryID == id {
			n++
		}
	}
	return n
}

func (s *MemoryStore) ListCategories(context.Context) ([]types.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Category, 0, len(s.data.categories))
	for _, c := range s.data.categories {
		c.ProductCount = s.categoryCount(c.ID)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetCategory(_ context.Context, id string) (*types.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.categories[id]
	if !ok {
		return nil, apperr.NotFound("storage.GetCategory", "category")
	}
	c.ProductCount = s.categoryCount(id)
	return &c, nil
}

func (s *MemoryStore) GetCategoryByName(_ context.Context, name string) (*types.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.data.categories {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, apperr.NotFound("storage.GetCategoryByName", "category")
}

func (s *MemoryStore) categoryNameTaken(name, exceptID string) bool {
	for _, c := range s.data.categories {
		if c.Name == name && c.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateCategory(_ context.Context, c *types.Category) error {
	defer s.lock()()
	if c.ID == "" {
		c.ID = types.NewID()
	}
	if _, ok := s.data.categories[c.ID]; ok || s.categoryNameTaken(c.Name, "") {
		return apperr.E("storage.CreateCategory", apperr.ErrConflict, "already exists")
	}
	now := s.stamp()
	c.CreatedAt, c.UpdatedAt = now, now
	stored := *c
	stored.ProductCount = 0
	s.data.categories[c.ID] = stored
	return nil
}

func (s *MemoryStore) UpdateCategory(_ context.Context, c *types.Category) error {
	const op = "storage.UpdateCategory"
	defer s.lock()()
	cur, ok := s.data.categories[c.ID]
	if !ok {
		return apperr.NotFound(op, "category")
	}
	if s.categoryNameTaken(c.Name, c.ID) {
		return apperr.E(op, apperr.ErrConflict, "already exists")
	}
	cur.Name = c.Name
	cur.Description = c.Description
	cur.UpdatedAt = s.stamp()
	s.data.categories[c.ID] = cur
	c.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteCategory(_ context.Context, id string) error {
	const op = "storage.DeleteCategory"
	defer s.lock()()
	if _, ok := s.data.categories[id]; !ok {
		return apperr.NotFound(op, "category")
	}
	if s.categoryCount(id) > 0 {
		return apperr.E(op, apperr.ErrConflict, "category still has products")
	}
	delete(s.data.categories, id)
	return nil
}

// Products

func (s *MemoryStore) withCategory(p types.Product) types.Product {
	p = cloneProduct(p)
	if c, ok := s.data.categories[p.CategoryID]; ok {
		p.Category = &c
	}
	return p
}

func matchesProduct(p types.Product, f ProductFilter) bool {
	if f.CategoryID != "" && p.CategoryID != f.CategoryID {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Query)); term != "" {
		if !strings.Contains(strings.ToLower(p.Name), term) && !strings.Contains(strings.ToLower(p.Description), term) {
			return false
		}
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.InStock && p.Stock <= 0 {
		return false
	}
	if f.ActiveOnly && p.Status != types.ProductActive {
		return false
	}
	return true
}

func (s *MemoryStore) ListProducts(_ context.Context, f ProductFilter) ([]types.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []types.Product{}
	for _, p := range s.data.products {
		if matchesProduct(p, f) {
			out = append(out, s.withCategory(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Sort {
		case SortPriceAsc:
			if !a.Price.Equal(b.Price) {
				return a.Price.LessThan(b.Price)
			}
		case SortPriceDesc:
			if !a.Price.Equal(b.Price) {
				return a.Price.GreaterThan(b.Price)
			}
		case SortName:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []types.Product{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountProducts(_ context.Context, f ProductFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, p := range s.data.products {
		if matchesProduct(p, f) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*types.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.products[id]
	if !ok {
		return nil, apperr.NotFound("storage.GetProduct", "product")
	}
	p = s.withCategory(p)
	return &p, nil
}

func (s *MemoryStore) checkProduct(op string, p *types.Product) error {
	if _, ok := s.data.categories[p.CategoryID]; !ok {
		return apperr.E(op, apperr.ErrConflict, "still referenced by other records")
	}
	if p.Stock < 0 || p.Price.IsNegative() {
		return apperr.E(op, apperr.ErrValidation, "value violates a constraint")
	}
	return nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *types.Product) error {
	const op = "storage.CreateProduct"
	defer s.lock()()
	if p.ID == "" {
		p.ID = types.NewID()
	}
	if _, ok := s.data.products[p.ID]; ok {
		return apperr.E(op, apperr.ErrConflict, "already exists")
	}
	if err := s.checkProduct(op, p); err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = types.ProductActive
	}
	now := s.stamp()
	p.CreatedAt, p.UpdatedAt = now, now
	s.data.products[p.ID] = cloneProduct(*p)
	return nil
}

func (s *MemoryStore) UpdateProduct(_ context.Context, p *types.Product) error {
	const op = "storage.UpdateProduct"
	defer s.lock()()
	cur, ok := s.data.products[p.ID]
	if !ok {
		return apperr.NotFound(op, "product")
	}
	if err := s.checkProduct(op, p); err != nil {
		return err
	}
	cur.Name = p.Name
	cur.Description = p.Description
	cur.Price = p.Price
	cur.Stock = p.Stock
	cur.Status = p.Status
	cur.CategoryID = p.CategoryID
	cur.Images = p.Images
	cur.UpdatedAt = s.stamp()
	s.data.products[p.ID] = cloneProduct(cur)
	p.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	const op = "storage.DeleteProduct"
	defer s.lock()()
	if _, ok := s.data.products[id]; !ok {
		return apperr.NotFound(op, "product")
	}
	for _, o := range s.data.orders {
		for _, item := range o.Items {
			if item.ProductID == id {
				return apperr.E(op, apperr.ErrConflict, "product is referenced by orders; deactivate it instead")
			}
		}
	}
	for itemID, item := range s.data.cartItems {
		if item.ProductID == id {
			delete(s.data.cartItems, itemID)
		}
	}
	delete(s.data.products, id)
	return nil
}

func (s *MemoryStore) SetStock(_ context.Context, id string, stock int) error {
	const op = "storage.SetStock"
	defer s.lock()()
	p, ok := s.data.products[id]
	if !ok {
		return apperr.NotFound(op, "product")
	}
	if stock < 0 {
		return apperr.E(op, apperr.ErrValidation, "value violates a constraint")
	}
	p.Stock = stock
	p.UpdatedAt = s.stamp()
	s.data.products[id] = p
	return nil
}

func (s *MemoryStore) DecrementStock(_ context.Context, id string, n int) error {
	const op = "storage.DecrementStock"
	defer s.lock()()
	p, ok := s.data.products[id]
	if !ok {
		return apperr.NotFound(op, "product")
	}
	if p.Stock < n {
		return apperr.E(op, apperr.ErrConflict, "insufficient stock for %s", p.Name)
	}
	p.Stock -= n
	p.UpdatedAt = s.stamp()
	s.data.products[id] = p
	return nil
}

// Users

func (s *MemoryStore) ListUsers(context.Context) ([]types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.User, 0, len(s.data.users))
	for _, u := range s.data.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.users[id]
	if !ok {
		return nil, apperr.NotFound("storage.GetUser", "user")
	}
	return &u, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.data.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperr.NotFound("storage.GetUserByEmail", "user")
}

func (s *MemoryStore) emailTaken(email, exceptID string) bool {
	for _, u := range s.data.users {
		if u.Email == email && u.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateUser(_ context.Context, u *types.User) error {
	const op = "storage.CreateUser"
	defer s.lock()()
	if u.ID == "" {
		u.ID = types.NewID()
	}
	if s.emailTaken(u.Email, "") {
		return apperr.E(op, apperr.ErrConflict, "email already registered")
	}
	if u.Role == "" {
		u.Role = types.RoleCustomer
	}
	if u.Status == "" {
		u.Status = types.UserActive
	}
	now := s.stamp()
	u.CreatedAt, u.UpdatedAt = now, now
	s.data.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u *types.User) error {
	const op = "storage.UpdateUser"
	defer s.lock()()
	cur, ok := s.data.users[u.ID]
	if !ok {
		return apperr.NotFound(op, "user")
	}
	if s.emailTaken(u.Email, u.ID) {
		return apperr.E(op, apperr.ErrConflict, "email already registered")
	}
	cur.Name = u.Name
	cur.Email = u.Email
	cur.Password = u.Password
	cur.Role = u.Role
	cur.Status = u.Status
	cur.UpdatedAt = s.stamp()
	s.data.users[u.ID] = cur
	u.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	const op = "storage.DeleteUser"
	defer s.lock()()
	if _, ok := s.data.users[id]; !ok {
		return apperr.NotFound(op, "user")
	}
	for _, o := range s.data.orders {
		if o.UserID == id {
			return apperr.E(op, apperr.ErrConflict, "user has orders; deactivate the account instead")
		}
	}
	for cartID, c := range s.data.carts {
		if c.UserID != id {
			continue
		}
		for itemID, item := range s.data.cartItems {
			if item.CartID == cartID {
				delete(s.data.cartItems, itemID)
			}
		}
		delete(s.data.carts, cartID)
	}
	delete(s.data.users, id)
	return nil
}

func (s *MemoryStore) CountUsersByRole(_ context.Context, role types.Role) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, u := range s.data.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

// Carts

func (s *MemoryStore) cartByUser(userID string) (types.Cart, bool) {
	for _, c := range s.data.carts {
		if c.UserID == userID {
			return c, true
		}
	}
	return types.Cart{}, false
}

func (s *MemoryStore) GetOrCreateCart(_ context.Context, userID string) (*types.Cart, error) {
	const op = "storage.GetOrCreateCart"
	defer s.lock()()
	cart, ok := s.cartByUser(userID)
	if !ok {
		if _, exists := s.data.users[userID]; !exists {
			return nil, apperr.E(op, apperr.ErrConflict, "still referenced by other records")
		}
		now := s.stamp()
		cart = types.Cart{ID: types.NewID(), UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.data.carts[cart.ID] = cart
	}

	items := []types.CartItem{}
	for _, item := range s.data.cartItems {
		if item.CartID != cart.ID {
			continue
		}
		if p, ok := s.data.products[item.ProductID]; ok {
			p = s.withCategory(p)
			item.Product = &p
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	cart.Items = items
	return &cart, nil
}

func (s *MemoryStore) GetCartItem(_ context.Context, itemID string) (*types.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.data.cartItems[itemID]
	if !ok {
		return nil, apperr.NotFound("storage.GetCartItem", "cart item")
	}
	if p, ok := s.data.products[item.ProductID]; ok {
		p = cloneProduct(p)
		item.Product = &p
	}
	return &item, nil
}

func (s *MemoryStore) AddCartItem(_ context.Context, cartID, productID string, qty int) error {
	const op = "storage.AddCartItem"
	defer s.lock()()
	if _, ok := s.data.carts[cartID]; !ok {
		return apperr.E(op, apperr.ErrConflict, "still referenced by other records")
	}
	if _, ok := s.data.products[productID]; !ok {
		return apperr.E(op, apperr.ErrConflict, "still referenced by other records")
	}
	if qty <= 0 {
		return apperr.E(op, apperr.ErrValidation, "value violates a constraint")
	}
	now := s.stamp()
	for id, item := range s.data.cartItems {
		if item.CartID == cartID && item.ProductID == productID {
			item.Quantity += qty
			item.UpdatedAt = now
			s.data.cartItems[id] = item
			return nil
		}
	}
	item := types.CartItem{
		ID:        types.NewID(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  qty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.data.cartItems[item.ID] = item
	return nil
}

func (s *MemoryStore) SetCartItemQuantity(_ context.Context, itemID string, qty int) error {
	const op = "storage.SetCartItemQuantity"
	defer s.lock()()
	item, ok := s.data.cartItems[itemID]
	if !ok {
		return apperr.NotFound(op, "cart item")
	}
	if qty <= 0 {
		return apperr.E(op, apperr.ErrValidation, "value violates a constraint")
	}
	item.Quantity = qty
	item.UpdatedAt = s.stamp()
	s.data.cartItems[itemID] = item
	return nil
}

func (s *MemoryStore) DeleteCartItem(_ context.Context, itemID string) error {
	defer s.lock()()
	if _, ok := s.data.cartItems[itemID]; !ok {
		return apperr.NotFound("storage.DeleteCartItem", "cart item")
	}
	delete(s.data.cartItems, itemID)
	return nil
}

func (s *MemoryStore) ClearCart(_ context.Context, cartID string) error {
	defer s.lock()()
	for id, item := range s.data.cartItems {
		if item.CartID == cartID {
			delete(s.data.cartItems, id)
		}
	}
	return nil
}

// Orders

func (s *MemoryStore) CreateOrder(_ context.Context, o *types.Order) error {
	const op = "storage.CreateOrder"
	defer s.lock()()
	if o.ID == "" {
		o.ID = types.NewID()
	}
	if _, ok := s.data.users[o.UserID]; !ok {
		return apperr.E(op, apperr.ErrConflict, "still referenced by other records")
	}
	for _, existing := range s.data.orders {
		if existing.ID == o.ID || existing.Reference == o.Reference {
			return apperr.E(op, apperr.ErrConflict, "already exists")
		}
	}
	for i := range o.Items {
		if _, ok := s.data.products[o.Items[i].ProductID]; !ok {
			return apperr.E(op, apperr.ErrConflict, "still referenced by other records")
		}
		if o.Items[i].ID == "" {
			o.Items[i].ID = types.NewID()
		}
		o.Items[i].OrderID = o.ID
	}
	now := s.stamp()
	o.CreatedAt, o.UpdatedAt = now, now
	s.data.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *MemoryStore) hydrateOrder(o types.Order) types.Order {
	o = cloneOrder(o)
	if u, ok := s.data.users[o.UserID]; ok {
		o.User = &u
	}
	sort.Slice(o.Items, func(i, j int) bool { return o.Items[i].ProductName < o.Items[j].ProductName })
	return o
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data.orders[id]
	if !ok {
		return nil, apperr.NotFound("storage.GetOrder", "order")
	}
	o = s.hydrateOrder(o)
	return &o, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []types.Order{}
	for _, o := range s.data.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		out = append(out, s.hydrateOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id string, from, to types.OrderStatus) error {
	const op = "storage.UpdateOrderStatus"
	defer s.lock()()
	o, ok := s.data.orders[id]
	if !ok {
		return apperr.NotFound(op, "order")
	}
	if o.Status != from {
		return apperr.E(op, apperr.ErrConflict, "order status changed concurrently")
	}
	o.Status = to
	o.UpdatedAt = s.stamp()
	s.data.orders[id] = o
	return nil
}

func (s *MemoryStore) FindOrderByPaymentReference(_ context.Context, ref string) (*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.data.orders {
		if o.Payment.Reference == ref {
			o = s.hydrateOrder(o)
			return &o, nil
		}
	}
	return nil, apperr.NotFound("storage.FindOrderByPaymentReference", "order")
}

func (s *MemoryStore) DeleteAllOrders(context.Context) (int64, error) {
	defer s.lock()()
	n := int64(len(s.data.orders))
	s.data.orders = map[string]types.Order{}
	return n, nil
}

func (s *MemoryStore) OrderStats(context.Context) (OrderStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := OrderStats{Revenue: decimal.Zero}
	for _, o := range s.data.orders {
		if o.Status == types.OrderCancelled {
			continue
		}
		stats.Revenue = stats.Revenue.Add(o.Total)
		stats.Orders++
	}
	return stats, nil
}

// Content

func (s *MemoryStore) GetPageContent(_ context.Context, page string) (*types.PageContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.data.pages[page]
	if !ok {
		return nil, apperr.NotFound("storage.GetPageContent", "page content")
	}
	pc.Content = bytes.Clone(pc.Content)
	return &pc, nil
}

func (s *MemoryStore) UpsertPageContent(_ context.Context, pc *types.PageContent) error {
	defer s.lock()()
	pc.UpdatedAt = s.stamp()
	stored := *pc
	stored.Content = bytes.Clone(pc.Content)
	s.data.pages[pc.Page] = stored
	return nil
}
