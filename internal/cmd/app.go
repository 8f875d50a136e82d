package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/config"
	"github.com/ivanstrassberg/storefront/internal/storage"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore connects to the configured database and brings its schema up to
// date.
func openStore(ctx context.Context, cfg config.DBConfig) (storage.Storage, error) {
	var store storage.Storage
	switch cfg.Driver {
	case "memory":
		store = storage.NewMemoryStore()
	default:
		pg, err := storage.NewPostgresStore(cfg)
		if err != nil {
			return nil, err
		}
		store = pg
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

type closer interface{ Close() error }

// newSessionStore uses Redis when a URL is configured. The returned closer
// may be nil.
func newSessionStore(cfg config.RedisConfig) (auth.SessionStore, closer, error) {
	if cfg.URL == "" {
		return auth.NewMemorySessionStore(), nil, nil
	}
	rs, err := auth.NewRedisSessionStore(cfg.URL, cfg.Namespace)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rs, rs, nil
}
