package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/cart"
	"github.com/ivanstrassberg/storefront/internal/catalog"
	"github.com/ivanstrassberg/storefront/internal/checkout"
	"github.com/ivanstrassberg/storefront/internal/config"
	"github.com/ivanstrassberg/storefront/internal/content"
	"github.com/ivanstrassberg/storefront/internal/dashboard"
	"github.com/ivanstrassberg/storefront/internal/feed"
	"github.com/ivanstrassberg/storefront/internal/inventory"
	"github.com/ivanstrassberg/storefront/internal/order"
	"github.com/ivanstrassberg/storefront/internal/payment"
	"github.com/ivanstrassberg/storefront/internal/storage"
	"github.com/ivanstrassberg/storefront/internal/types"
	"github.com/ivanstrassberg/storefront/internal/upload"
	"github.com/ivanstrassberg/storefront/internal/users"
)

type testAPI struct {
	srv   *httptest.Server
	store *storage.MemoryStore
	users *users.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	_, err := storage.SeedDefaults(context.Background(), store)
	require.NoError(t, err)

	cfg := config.Config{
		Server:  config.ServerConfig{AllowedOrigins: []string{"http://shop.test"}, ShutdownTimeout: time.Second},
		Auth:    config.AuthConfig{CookieName: "storefront_session"},
		Payment: config.PaymentConfig{Provider: payment.ProviderOffline, Currency: "usd"},
		Uploads: config.UploadsConfig{MaxBytes: 1 << 20},
	}

	sessions := auth.NewManager(auth.NewTokenIssuer("test-secret", time.Hour), auth.NewMemorySessionStore())
	hub := feed.NewHub(cfg.Server.AllowedOrigins, logger)
	t.Cleanup(hub.Close)
	uploads, err := upload.NewLocalStore(t.TempDir(), "/uploads", cfg.Uploads.MaxBytes)
	require.NoError(t, err)

	carts := cart.NewService(store)
	orders := order.NewService(store, order.Options{StrictTransitions: true, Notifier: hub})
	inv := inventory.NewService(store, inventory.DefaultLowStockThreshold)
	gateway := payment.NewOfflineGateway("usd")
	userSvc := users.NewService(store, sessions, bcrypt.MinCost)

	api := NewAPIServer(cfg, Deps{
		Store:     store,
		Sessions:  sessions,
		Users:     userSvc,
		Catalog:   catalog.NewService(store),
		Carts:     carts,
		Orders:    orders,
		Checkout:  checkout.NewService(store, carts, orders, inv, gateway, checkout.Options{Currency: "usd", Logger: logger}),
		Inventory: inv,
		Content:   content.NewService(store),
		Dashboard: dashboard.NewService(store),
		Payments:  gateway,
		Uploads:   uploads,
		Feed:      hub,
		Logger:    logger,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, store: store, users: userSvc}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (a *testAPI) login(t *testing.T, email, password string) string {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out loginResponse
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (a *testAPI) customer(t *testing.T, email string) string {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ann", "email": email, "password": "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return a.login(t, email, "password123")
}

func (a *testAPI) admin(t *testing.T) string {
	t.Helper()
	_, err := a.users.CreateAdmin(context.Background(), "Root", "root@shop.test", "password123")
	require.NoError(t, err)
	return a.login(t, "root@shop.test", "password123")
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, "ok", out["status"])
}

func TestSessionLifecycle(t *testing.T) {
	a := newTestAPI(t)
	token := a.customer(t, "Ann@Example.com")

	resp := a.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me types.User
	decodeBody(t, resp, &me)
	assert.Equal(t, "ann@example.com", me.Email)
	assert.Equal(t, types.RoleCustomer, me.Role)

	// the session cookie works without the header
	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/api/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "storefront_session", Value: token})
	cookieResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer cookieResp.Body.Close()
	assert.Equal(t, http.StatusOK, cookieResp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginFailures(t *testing.T) {
	a := newTestAPI(t)
	a.customer(t, "ann@example.com")

	resp := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ann@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var apiErr ApiError
	decodeBody(t, resp, &apiErr)
	assert.Equal(t, "invalid email or password", apiErr.Error)

	resp = a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"name": "Ann", "email": "ann@example.com", "password": "password123"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeactivatedUserLosesAccess(t *testing.T) {
	a := newTestAPI(t)
	token := a.customer(t, "ann@example.com")
	u, err := a.store.GetUserByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)
	u.Status = types.UserInactive
	require.NoError(t, a.store.UpdateUser(context.Background(), u))

	resp := a.do(t, http.MethodGet, "/api/cart", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAccessControl(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var apiErr ApiError
	decodeBody(t, resp, &apiErr)
	assert.Equal(t, "login required", apiErr.Error)

	resp = a.do(t, http.MethodGet, "/api/cart", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := a.customer(t, "ann@example.com")
	resp = a.do(t, http.MethodGet, "/api/admin/stats", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := a.admin(t)
	resp = a.do(t, http.MethodGet, "/api/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[string]any
	decodeBody(t, resp, &stats)
	assert.EqualValues(t, 1, stats["total_customers"])
	assert.EqualValues(t, 10, stats["active_products"])
}

func TestCatalogEndpoints(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/api/categories", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cats []types.Category
	decodeBody(t, resp, &cats)
	assert.Len(t, cats, 4)

	resp = a.do(t, http.MethodGet, "/api/products?sort=price_asc&limit=3", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page catalog.ProductPage
	decodeBody(t, resp, &page)
	assert.EqualValues(t, 10, page.Total)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "Lip Tint", page.Items[0].Name)

	resp = a.do(t, http.MethodGet, "/api/products?sort=sideways", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/products/"+types.NewID(), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckoutFlow(t *testing.T) {
	a := newTestAPI(t)
	token := a.customer(t, "ann@example.com")
	products, err := a.store.ListProducts(context.Background(), storage.ProductFilter{Query: "Lip Tint"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	lipTint := products[0]

	resp := a.do(t, http.MethodPost, "/api/cart/items", token, map[string]any{"product_id": lipTint.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var c types.Cart
	decodeBody(t, resp, &c)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "599.98", c.Total.StringFixed(2))

	shipping := map[string]string{
		"first_name": "Ann", "last_name": "Lee", "address": "1 Main St", "city": "Springfield", "postal_code": "12345",
	}

	resp = a.do(t, http.MethodPost, "/api/orders", token, map[string]any{
		"shipping_info": shipping,
		"card_number":   "4242424242424242",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/orders", token, map[string]any{"shipping_info": shipping})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res checkout.Result
	decodeBody(t, resp, &res)
	require.NotNil(t, res.Order)
	assert.Equal(t, types.OrderPaid, res.Order.Status)
	assert.Equal(t, "599.98", res.Order.Total.StringFixed(2))
	assert.Equal(t, payment.ProviderOffline, res.Provider)

	resp = a.do(t, http.MethodGet, "/api/cart", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &c)
	assert.Empty(t, c.Items)

	resp = a.do(t, http.MethodGet, "/api/orders/"+res.Order.ID, token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	other := a.customer(t, "bob@example.com")
	resp = a.do(t, http.MethodGet, "/api/orders/"+res.Order.ID, other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/orders", other, map[string]any{"shipping_info": shipping})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	admin := a.admin(t)
	resp = a.do(t, http.MethodPatch, "/api/orders/"+res.Order.ID+"/status", admin, map[string]string{"status": "shipped"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var shipped types.Order
	decodeBody(t, resp, &shipped)
	assert.Equal(t, types.OrderShipped, shipped.Status)

	resp = a.do(t, http.MethodPatch, "/api/orders/"+res.Order.ID+"/status", admin, map[string]string{"status": "PAID"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPayments(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/api/payments/config", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg map[string]string
	decodeBody(t, resp, &cfg)
	assert.Equal(t, payment.ProviderOffline, cfg["provider"])
	assert.Equal(t, "usd", cfg["currency"])

	// the offline provider has no webhooks
	resp = a.do(t, http.MethodPost, "/api/payments/webhook", "", map[string]string{"type": "payment_intent.succeeded"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContentEndpoints(t *testing.T) {
	a := newTestAPI(t)
	admin := a.admin(t)

	resp := a.do(t, http.MethodGet, "/api/content/about", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodPut, "/api/content/about", admin, map[string]any{"title": "About us"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/content/about", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page map[string]string
	decodeBody(t, resp, &page)
	assert.Equal(t, "About us", page["title"])

	customer := a.customer(t, "ann@example.com")
	resp = a.do(t, http.MethodPut, "/api/content/about", customer, map[string]any{"title": "mine"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUploadAndServe(t *testing.T) {
	a := newTestAPI(t)
	admin := a.admin(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/api/admin/uploads/product", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Regexp(t, `^/uploads/products/[0-9a-f-]+\.png$`, out["url"])

	served := a.do(t, http.MethodGet, out["url"], "", nil)
	require.Equal(t, http.StatusOK, served.StatusCode)
	got, err := io.ReadAll(served.Body)
	require.NoError(t, err)
	assert.Equal(t, png, got)

	listing := a.do(t, http.MethodGet, "/uploads/products/", "", nil)
	assert.Equal(t, http.StatusNotFound, listing.StatusCode)
}

func TestExportProducts(t *testing.T) {
	a := newTestAPI(t)
	admin := a.admin(t)

	resp := a.do(t, http.MethodGet, "/api/admin/products/export", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
}

func TestInventoryEndpoints(t *testing.T) {
	a := newTestAPI(t)
	admin := a.admin(t)
	products, err := a.store.ListProducts(context.Background(), storage.ProductFilter{Query: "Moringa"})
	require.NoError(t, err)
	require.Len(t, products, 1)

	resp := a.do(t, http.MethodPut, "/api/admin/inventory/"+products[0].ID, admin, map[string]int{"stock": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var item inventory.Item
	decodeBody(t, resp, &item)
	assert.Equal(t, 3, item.Stock)
	assert.Equal(t, types.LowStock, item.StockStatus)

	resp = a.do(t, http.MethodPut, "/api/admin/inventory/"+products[0].ID, admin, map[string]int{"stock": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPut, "/api/admin/inventory/"+products[0].ID, admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)

	req, err := http.NewRequest(http.MethodOptions, a.srv.URL+"/api/cart", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://shop.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://shop.test", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.test")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}
