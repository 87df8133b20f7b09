package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"asirinvest/core-service/internal/config"
	"asirinvest/core-service/internal/db"
	"asirinvest/core-service/internal/retry"
	"asirinvest/core-service/internal/store/memory"
	"asirinvest/core-service/internal/store/postgres"
)

// OpenStore connects the backend selected by STORE_DRIVER. For postgres the
// schema is applied before the store is returned. The returned func releases
// the connection pool.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	case "postgres":
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return postgres.New(pool, cfg.StoreTimeout), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// OptionsFrom derives component options from cfg.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Retry: retry.Policy{
			Attempts: cfg.RetryAttempts,
			Initial:  retry.DefaultPolicy.Initial,
			Max:      retry.DefaultPolicy.Max,
		},
		AcceptanceBaseline: cfg.AcceptanceBaseline,
		StatsStaleness:     cfg.StatsStaleness,
	}
}

// ShutdownTimeout bounds graceful shutdown of the servers and scheduler.
const ShutdownTimeout = 10 * time.Second
