// provctl is the operator CLI for fingerprint provenance: it verifies stamps,
// prints provenance history, runs the tamper sweep on demand, lists open
// tamper flags, shows platform stats and applies the database schema.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"asirinvest/core-service/internal/app"
	"asirinvest/core-service/internal/config"
	"asirinvest/core-service/internal/db"
	"asirinvest/core-service/internal/events"
)

// env is what every subcommand runs against.
type env struct {
	store app.Store
	core  *app.App
	close func()
}

// opener builds an env; tests substitute an in-memory one.
type opener func(ctx context.Context) (*env, error)

// openFromConfig connects to the backends named by the environment. Redis is
// optional here: without it the stats cache is bypassed and events are dropped.
func openFromConfig(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	st, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		rdb *redis.Client
		pub events.Publisher = events.Nop{}
	)
	if c, err := db.NewRedisClient(ctx, cfg.RedisURL); err != nil {
		slog.Warn("redis unavailable, continuing without cache", "err", err)
	} else {
		rdb = c
		pub = events.NewRedisPublisher(c)
	}

	return &env{
		store: st,
		core:  app.New(st, rdb, pub, app.OptionsFrom(cfg)),
		close: func() {
			if rdb != nil {
				rdb.Close()
			}
			closeStore()
		},
	}, nil
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "provctl",
		Short:         "Fingerprint provenance operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		verifyCmd(open),
		historyCmd(open),
		sweepCmd(open),
		flagsCmd(open),
		statsCmd(open),
		migrateCmd(open),
	)
	return root
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := newRootCmd(openFromConfig).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "provctl:", err)
		os.Exit(1)
	}
}
