// Package server exposes the storefront services over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ivanstrassberg/storefront/internal/apperr"
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
	"github.com/ivanstrassberg/storefront/internal/telemetry"
	"github.com/ivanstrassberg/storefront/internal/upload"
	"github.com/ivanstrassberg/storefront/internal/users"
)

// maxBodyBytes caps JSON request bodies. Uploads have their own limit.
const maxBodyBytes = 1 << 20

// Deps are the services the API dispatches to.
type Deps struct {
	Store     storage.Storage
	Sessions  *auth.Manager
	Users     *users.Service
	Catalog   *catalog.Service
	Carts     *cart.Service
	Orders    *order.Service
	Checkout  *checkout.Service
	Inventory *inventory.Service
	Content   *content.Service
	Dashboard *dashboard.Service
	Payments  payment.Gateway
	Uploads   upload.Store
	Feed      *feed.Hub
	Logger    *slog.Logger
}

type APIServer struct {
	listenAddr string
	cfg        config.Config
	Deps
}

func NewAPIServer(cfg config.Config, deps Deps) *APIServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &APIServer{
		listenAddr: cfg.Server.Addr,
		cfg:        cfg,
		Deps:       deps,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *APIServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("JSON API server running", "addr", s.listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down server")
	if s.Feed != nil {
		s.Feed.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Handler returns the routed API with its middleware chain.
func (s *APIServer) Handler() http.Handler {
	var h http.Handler = s.routes()
	h = s.withIdentity(h)
	h = loggingMiddleware(s.Logger)(h)
	h = corsMiddleware(s.cfg.Server.AllowedOrigins)(h)
	return telemetry.Middleware(h, s.cfg.Telemetry.ServiceName)
}

type APIfunc func(http.ResponseWriter, *http.Request) error

type ApiError struct {
	Error string `json:"error"`
}

func (s *APIServer) makeHTTPHandleFunc(f APIfunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			status := apperr.Status(err)
			if status >= http.StatusInternalServerError {
				s.Logger.ErrorContext(r.Context(), "request failed",
					"method", r.Method, "path", r.URL.Path, "error", err)
			}
			WriteJSON(w, status, ApiError{Error: apperr.Message(err)})
		}
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. Unknown fields are tolerated.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperr.Validation("server.decode", "request body is too large")
		case errors.Is(err, io.EOF):
			return apperr.Validation("server.decode", "request body is empty")
		default:
			return apperr.Validation("server.decode", "malformed JSON body")
		}
	}
	return nil
}

func identity(r *http.Request) auth.Identity {
	return auth.FromContext(r.Context())
}
