package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

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
	"github.com/ivanstrassberg/storefront/internal/server"
	"github.com/ivanstrassberg/storefront/internal/storage"
	"github.com/ivanstrassberg/storefront/internal/telemetry"
	"github.com/ivanstrassberg/storefront/internal/upload"
	"github.com/ivanstrassberg/storefront/internal/users"
)

var seedOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the storefront API server. The schema is migrated on start;
with --seed an empty catalog is filled with the demo products.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&seedOnStart, "seed", false, "seed the demo catalog when it is empty")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("database ready", "driver", cfg.DB.Driver)

	if seedOnStart {
		if err := seedIfEmpty(ctx, store, logger); err != nil {
			return err
		}
	}

	srv, cleanup, err := buildServer(cfg, store, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return srv.Run(ctx)
}

func seedIfEmpty(ctx context.Context, store storage.Storage, logger *slog.Logger) error {
	count, err := store.CountProducts(ctx, storage.ProductFilter{})
	if err != nil {
		return fmt.Errorf("failed to count products: %w", err)
	}
	if count > 0 {
		return nil
	}
	n, err := storage.SeedDefaults(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}
	logger.Info("seeded demo catalog", "products", n)
	return nil
}

// buildServer wires the services on top of store.
func buildServer(cfg *config.Config, store storage.Storage, logger *slog.Logger) (*server.APIServer, func(), error) {
	sessionStore, sessionCloser, err := newSessionStore(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sessionCloser != nil {
			sessionCloser.Close()
		}
	}

	gateway, err := payment.New(cfg.Payment)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	uploads, err := upload.New(cfg.Uploads)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	sessions := auth.NewManager(auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), sessionStore)
	hub := feed.NewHub(cfg.Server.AllowedOrigins, logger)
	carts := cart.NewService(store)
	orders := order.NewService(store, order.Options{
		StrictTransitions: cfg.Orders.StrictTransitions,
		Notifier:          hub,
	})
	inv := inventory.NewService(store, cfg.Inventory.LowStockThreshold)

	srv := server.NewAPIServer(*cfg, server.Deps{
		Store:    store,
		Sessions: sessions,
		Users:    users.NewService(store, sessions, cfg.Auth.BcryptCost),
		Catalog:  catalog.NewService(store),
		Carts:    carts,
		Orders:   orders,
		Checkout: checkout.NewService(store, carts, orders, inv, gateway, checkout.Options{
			Currency:       cfg.Payment.Currency,
			DecrementStock: cfg.Inventory.DecrementOnCheckout,
			Logger:         logger,
		}),
		Inventory: inv,
		Content:   content.NewService(store),
		Dashboard: dashboard.NewService(store),
		Payments:  gateway,
		Uploads:   uploads,
		Feed:      hub,
		Logger:    logger,
	})
	logger.Info("services ready", "payment", gateway.Provider(), "uploads", cfg.Uploads.Backend)
	return srv, cleanup, nil
}
