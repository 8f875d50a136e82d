package server

import (
	"io/fs"
	"net/http"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/upload"
)

var (
	errUnauthorized = apperr.E("server.auth", apperr.ErrUnauthorized, "login required")
	errAdminOnly    = apperr.E("server.auth", apperr.ErrForbidden, "admin only")
)

func (s *APIServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(pattern string, f APIfunc) {
		mux.HandleFunc(pattern, s.makeHTTPHandleFunc(f))
	}

	handle("GET /api/health", s.handleHealth)

	handle("POST /api/auth/register", s.handleRegister)
	handle("POST /api/auth/login", s.handleLogin)
	handle("POST /api/auth/logout", withAuth(s.handleLogout))
	handle("GET /api/me", withAuth(s.handleMe))
	handle("PATCH /api/users/profile", withAuth(s.handleUpdateProfile))
	handle("PUT /api/users/password", withAuth(s.handleChangeOwnPassword))
	handle("PUT /api/users/{id}/password", withAuth(s.handleChangePassword))

	handle("GET /api/categories", s.handleListCategories)
	handle("GET /api/categories/{id}", s.handleGetCategory)
	handle("GET /api/products", s.handleListProducts)
	handle("GET /api/products/{id}", s.handleGetProduct)
	handle("GET /api/content/{page}", s.handleGetContent)
	handle("PUT /api/content/{page}", withAuth(s.handleSetContent))

	handle("GET /api/cart", withAuth(s.handleGetCart))
	handle("POST /api/cart/items", withAuth(s.handleAddCartItem))
	handle("PATCH /api/cart/items/{id}", withAuth(s.handleUpdateCartItem))
	handle("DELETE /api/cart/items/{id}", withAuth(s.handleRemoveCartItem))
	handle("DELETE /api/cart", withAuth(s.handleClearCart))

	handle("POST /api/orders", withAuth(s.handleCheckout))
	handle("GET /api/orders", withAuth(s.handleListOrders))
	handle("GET /api/orders/{id}", withAuth(s.handleGetOrder))
	handle("PATCH /api/orders/{id}/status", withAuth(s.handleUpdateOrderStatus))

	handle("GET /api/payments/config", s.handlePaymentConfig)
	handle("POST /api/payments/webhook", s.handleWebhook)

	handle("GET /api/admin/stats", withAdmin(s.handleStats))
	handle("GET /api/admin/orders", withAdmin(s.handleListAllOrders))
	handle("GET /api/admin/orders/feed", withAdmin(s.handleOrderFeed))
	handle("GET /api/admin/users", withAdmin(s.handleListUsers))
	handle("POST /api/admin/users", withAdmin(s.handleCreateUser))
	handle("GET /api/admin/users/{id}", withAdmin(s.handleGetUser))
	handle("PUT /api/admin/users/{id}", withAdmin(s.handleUpdateUser))
	handle("DELETE /api/admin/users/{id}", withAdmin(s.handleDeleteUser))
	handle("GET /api/admin/products", withAdmin(s.handleListAllProducts))
	handle("POST /api/admin/products", withAdmin(s.handleCreateProduct))
	handle("PUT /api/admin/products/{id}", withAdmin(s.handleUpdateProduct))
	handle("DELETE /api/admin/products/{id}", withAdmin(s.handleDeleteProduct))
	handle("GET /api/admin/products/export", withAdmin(s.handleExportProducts))
	handle("POST /api/admin/products/import", withAdmin(s.handleImportProducts))
	handle("POST /api/admin/categories", withAdmin(s.handleCreateCategory))
	handle("PUT /api/admin/categories/{id}", withAdmin(s.handleUpdateCategory))
	handle("DELETE /api/admin/categories/{id}", withAdmin(s.handleDeleteCategory))
	handle("GET /api/admin/inventory", withAdmin(s.handleListInventory))
	handle("PUT /api/admin/inventory/{id}", withAdmin(s.handleUpdateStock))
	handle("POST /api/admin/uploads/{kind}", withAdmin(s.handleUpload))

	if local, ok := s.Uploads.(*upload.LocalStore); ok {
		prefix := local.PublicPath() + "/"
		mux.Handle("GET "+prefix, http.StripPrefix(local.PublicPath(), http.FileServer(noListing{http.Dir(local.Dir())})))
	}
	return mux
}

// noListing hides directory indexes of the upload folder.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
