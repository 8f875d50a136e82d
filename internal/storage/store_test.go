package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/types"
)

// runStoreSuite exercises the behaviour every Storage implementation shares.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	ctx := context.Background()

	fixture := func(t *testing.T, s Storage) (*types.Category, *types.Product, *types.User) {
		t.Helper()
		cat := &types.Category{Name: "Vitamins"}
		require.NoError(t, s.CreateCategory(ctx, cat))
		p := &types.Product{
			Name:       "Vitamin C Gold",
			Price:      decimal.RequireFromString("599.99"),
			Stock:      5,
			Status:     types.ProductActive,
			CategoryID: cat.ID,
			Images:     types.ImageList{"/a.jpg"},
		}
		require.NoError(t, s.CreateProduct(ctx, p))
		u := &types.User{Name: "Ann", Email: "ann@example.com", Password: "x", Role: types.RoleCustomer, Status: types.UserActive}
		require.NoError(t, s.CreateUser(ctx, u))
		return cat, p, u
	}

	t.Run("category names are unique and counted", func(t *testing.T) {
		s := newStore(t)
		cat, _, _ := fixture(t, s)

		err := s.CreateCategory(ctx, &types.Category{Name: "Vitamins"})
		assert.True(t, apperr.IsConflict(err))

		require.NoError(t, s.CreateCategory(ctx, &types.Category{Name: "Beauty"}))
		cats, err := s.ListCategories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 2)
		assert.Equal(t, "Beauty", cats[0].Name)
		assert.Equal(t, int64(1), cats[1].ProductCount)

		err = s.DeleteCategory(ctx, cat.ID)
		assert.True(t, apperr.IsConflict(err), "referenced category cannot be deleted")
	})

	t.Run("product round trip keeps images and price", func(t *testing.T) {
		s := newStore(t)
		cat, p, _ := fixture(t, s)

		got, err := s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, got.Price.Equal(decimal.RequireFromString("599.99")))
		assert.Equal(t, types.ImageList{"/a.jpg"}, got.Images)
		require.NotNil(t, got.Category)
		assert.Equal(t, cat.Name, got.Category.Name)

		got.Name = "Vitamin C Platinum"
		got.Images = types.ImageList{"/b.jpg", "/c.jpg"}
		require.NoError(t, s.UpdateProduct(ctx, got))
		again, err := s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Vitamin C Platinum", again.Name)
		assert.Equal(t, types.ImageList{"/b.jpg", "/c.jpg"}, again.Images)
	})

	t.Run("missing records are not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetProduct(ctx, types.NewID())
		assert.True(t, apperr.IsNotFound(err))
		_, err = s.GetProduct(ctx, "not-a-uuid")
		assert.True(t, apperr.IsNotFound(err))
		_, err = s.GetOrder(ctx, types.NewID())
		assert.True(t, apperr.IsNotFound(err))
		_, err = s.GetPageContent(ctx, "about")
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("product filters", func(t *testing.T) {
		s := newStore(t)
		cat, _, _ := fixture(t, s)
		other := &types.Category{Name: "Beauty"}
		require.NoError(t, s.CreateCategory(ctx, other))
		for _, p := range []*types.Product{
			{Name: "Lip Tint", Price: decimal.RequireFromString("299.99"), Stock: 0, Status: types.ProductActive, CategoryID: other.ID},
			{Name: "Moringa Oil", Price: decimal.RequireFromString("399.99"), Stock: 3, Status: types.ProductInactive, CategoryID: other.ID},
		} {
			require.NoError(t, s.CreateProduct(ctx, p))
		}

		all, err := s.ListProducts(ctx, ProductFilter{Sort: SortPriceAsc})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "Lip Tint", all[0].Name)

		byCat, err := s.ListProducts(ctx, ProductFilter{CategoryID: cat.ID})
		require.NoError(t, err)
		assert.Len(t, byCat, 1)

		active, err := s.ListProducts(ctx, ProductFilter{ActiveOnly: true, InStock: true})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "Vitamin C Gold", active[0].Name)

		minPrice := decimal.RequireFromString("300")
		maxPrice := decimal.RequireFromString("500")
		ranged, err := s.ListProducts(ctx, ProductFilter{MinPrice: &minPrice, MaxPrice: &maxPrice})
		require.NoError(t, err)
		require.Len(t, ranged, 1)
		assert.Equal(t, "Moringa Oil", ranged[0].Name)

		search, err := s.ListProducts(ctx, ProductFilter{Query: "LIP"})
		require.NoError(t, err)
		require.Len(t, search, 1)

		n, err := s.CountProducts(ctx, ProductFilter{InStock: true})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		page, err := s.ListProducts(ctx, ProductFilter{Sort: SortName, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "Moringa Oil", page[0].Name)
	})

	t.Run("stock decrement is conditional", func(t *testing.T) {
		s := newStore(t)
		_, p, _ := fixture(t, s)

		require.NoError(t, s.DecrementStock(ctx, p.ID, 3))
		err := s.DecrementStock(ctx, p.ID, 3)
		assert.True(t, apperr.IsConflict(err))

		got, err := s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Stock)

		require.NoError(t, s.SetStock(ctx, p.ID, 40))
		got, err = s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 40, got.Stock)
	})

	t.Run("user emails are unique", func(t *testing.T) {
		s := newStore(t)
		_, _, u := fixture(t, s)
		err := s.CreateUser(ctx, &types.User{Name: "B", Email: u.Email, Password: "x", Role: types.RoleCustomer, Status: types.UserActive})
		assert.True(t, apperr.IsConflict(err))

		got, err := s.GetUserByEmail(ctx, u.Email)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		n, err := s.CountUsersByRole(ctx, types.RoleCustomer)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("cart add merges lines", func(t *testing.T) {
		s := newStore(t)
		_, p, u := fixture(t, s)

		cart, err := s.GetOrCreateCart(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, cart.Items)

		again, err := s.GetOrCreateCart(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, cart.ID, again.ID, "one cart per user")

		require.NoError(t, s.AddCartItem(ctx, cart.ID, p.ID, 2))
		require.NoError(t, s.AddCartItem(ctx, cart.ID, p.ID, 3))

		cart, err = s.GetOrCreateCart(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, cart.Items, 1)
		assert.Equal(t, 5, cart.Items[0].Quantity)
		require.NotNil(t, cart.Items[0].Product)
		assert.True(t, cart.Total().Equal(decimal.RequireFromString("2999.95")))

		item, err := s.GetCartItem(ctx, cart.Items[0].ID)
		require.NoError(t, err)
		assert.Equal(t, cart.ID, item.CartID)

		require.NoError(t, s.SetCartItemQuantity(ctx, item.ID, 1))
		require.NoError(t, s.ClearCart(ctx, cart.ID))
		cart, err = s.GetOrCreateCart(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, cart.Items)
	})

	t.Run("concurrent adds do not lose quantity", func(t *testing.T) {
		s := newStore(t)
		_, p, u := fixture(t, s)
		cart, err := s.GetOrCreateCart(ctx, u.ID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.AddCartItem(ctx, cart.ID, p.ID, 1))
			}()
		}
		wg.Wait()

		cart, err = s.GetOrCreateCart(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, cart.Items, 1)
		assert.Equal(t, 10, cart.Items[0].Quantity)
	})

	t.Run("orders", func(t *testing.T) {
		s := newStore(t)
		_, p, u := fixture(t, s)

		mk := func(ref string, status types.OrderStatus) *types.Order {
			o := &types.Order{
				Reference:    ref,
				UserID:       u.ID,
				Total:        decimal.RequireFromString("1199.98"),
				Status:       status,
				ShippingInfo: types.ShippingInfo{FirstName: "Ann", LastName: "Lee", Address: "1 Main", City: "Town", PostalCode: "1000"},
				Payment:      types.PaymentSnapshot{Provider: "offline", Reference: "pay-" + ref},
				Items: []types.OrderItem{
					{ProductID: p.ID, ProductName: p.Name, Quantity: 2, Price: p.Price},
				},
			}
			require.NoError(t, s.CreateOrder(ctx, o))
			return o
		}
		first := mk("r1", types.OrderProcessing)
		second := mk("r2", types.OrderCancelled)

		orders, err := s.ListOrders(ctx, OrderFilter{UserID: u.ID})
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, second.ID, orders[0].ID, "newest first")
		require.Len(t, orders[1].Items, 1)
		assert.Equal(t, "Ann", orders[1].ShippingInfo.FirstName)

		require.NoError(t, s.UpdateOrderStatus(ctx, first.ID, types.OrderProcessing, types.OrderPaid))
		err = s.UpdateOrderStatus(ctx, first.ID, types.OrderProcessing, types.OrderShipped)
		assert.True(t, apperr.IsConflict(err), "stale from-status loses")

		byRef, err := s.FindOrderByPaymentReference(ctx, "pay-r1")
		require.NoError(t, err)
		assert.Equal(t, types.OrderPaid, byRef.Status)

		stats, err := s.OrderStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Orders)
		assert.True(t, stats.Revenue.Equal(decimal.RequireFromString("1199.98")))

		err = s.DeleteProduct(ctx, p.ID)
		assert.True(t, apperr.IsConflict(err), "ordered products cannot be deleted")
		err = s.DeleteUser(ctx, u.ID)
		assert.True(t, apperr.IsConflict(err))

		n, err := s.DeleteAllOrders(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		require.NoError(t, s.DeleteProduct(ctx, p.ID))
	})

	t.Run("transactions roll back", func(t *testing.T) {
		s := newStore(t)
		cat, _, _ := fixture(t, s)
		boom := errors.New("boom")

		err := s.WithTx(ctx, func(tx Storage) error {
			require.NoError(t, tx.CreateProduct(ctx, &types.Product{
				Name: "Ghost", Price: decimal.NewFromInt(1), Stock: 1, Status: types.ProductActive, CategoryID: cat.ID,
			}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		n, err := s.CountProducts(ctx, ProductFilter{Query: "ghost"})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("page content upsert", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertPageContent(ctx, &types.PageContent{Page: "about", Content: json.RawMessage(`{"title":"A"}`)}))
		require.NoError(t, s.UpsertPageContent(ctx, &types.PageContent{Page: "about", Content: json.RawMessage(`{"title":"B"}`)}))
		pc, err := s.GetPageContent(ctx, "about")
		require.NoError(t, err)
		assert.JSONEq(t, `{"title":"B"}`, string(pc.Content))
	})

	t.Run("seed file", func(t *testing.T) {
		s := newStore(t)
		rows, err := ParseSeedFile(strings.NewReader("# demo\nApple;Red apple;1.20;10;Fruit\n\nPear;Green pear;0.90;4;Fruit\n"))
		require.NoError(t, err)
		n, err := SeedProducts(ctx, s, rows)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		cats, err := s.ListCategories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 1)
		assert.Equal(t, int64(2), cats[0].ProductCount)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Storage { return NewMemoryStore() })
}

func TestSeedDefaults(t *testing.T) {
	s := NewMemoryStore()
	n, err := SeedDefaults(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	cats, err := s.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, cats, 4)
}

func TestParseSeedFileRejectsBadRows(t *testing.T) {
	tests := []string{
		"only;three;fields",
		"Apple;Red;abc;10;Fruit",
		"Apple;Red;1.00;many;Fruit",
	}
	for _, line := range tests {
		_, err := ParseSeedFile(strings.NewReader(line))
		assert.Error(t, err, line)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	cat := &types.Category{Name: "C"}
	require.NoError(t, s.CreateCategory(ctx, cat))
	p := &types.Product{Name: "P", Price: decimal.NewFromInt(1), Stock: 1, Status: types.ProductActive, CategoryID: cat.ID, Images: types.ImageList{"/a.jpg"}}
	require.NoError(t, s.CreateProduct(ctx, p))

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	got.Images[0] = "/mutated.jpg"

	again, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "/a.jpg", again.Images[0])
}

func TestMemoryStoreRollbackKeepsOutsideWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	cat := &types.Category{Name: "C"}
	require.NoError(t, s.CreateCategory(ctx, cat))
	p := &types.Product{Name: "P", Price: decimal.NewFromInt(1), Stock: 5, Status: types.ProductActive, CategoryID: cat.ID}
	require.NoError(t, s.CreateProduct(ctx, p))
	u := &types.User{Name: "Bo", Email: "bo@example.com", Password: "x"}
	require.NoError(t, s.CreateUser(ctx, u))
	c, err := s.GetOrCreateCart(ctx, u.ID)
	require.NoError(t, err)

	inTx := make(chan struct{})
	release := make(chan struct{})
	txErr := make(chan error, 1)
	go func() {
		txErr <- s.WithTx(ctx, func(tx Storage) error {
			if err := tx.SetStock(ctx, p.ID, 0); err != nil {
				return err
			}
			close(inTx)
			<-release
			return errors.New("checkout failed")
		})
	}()
	<-inTx

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock, "uncommitted writes are not visible")

	addErr := make(chan error, 1)
	go func() { addErr <- s.AddCartItem(ctx, c.ID, p.ID, 3) }()
	close(release)

	require.EqualError(t, <-txErr, "checkout failed")
	require.NoError(t, <-addErr)

	c, err = s.GetOrCreateCart(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, c.Items, 1, "write made during the failed transaction survives")
	assert.Equal(t, 3, c.Items[0].Quantity)
	got, err = s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}
