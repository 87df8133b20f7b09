// asirinvest core-service
//
// Investment-opportunity core: fingerprint and provenance, NDA gate, vote
// ledger, comments and platform stats. Exposes:
//   - a REST API under /api/opportunities for the Gateway
//   - the asirinvest.core.v1.OpportunityCore gRPC service
//
// Publishes OPPORTUNITY_STAMPED, VOTE_CAST, COMMENT_ADDED, NDA_ACCEPTED and
// TAMPER_DETECTED events to Redis. A cron job re-verifies every fingerprint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"asirinvest/core-service/internal/app"
	"asirinvest/core-service/internal/auth"
	"asirinvest/core-service/internal/config"
	"asirinvest/core-service/internal/db"
	"asirinvest/core-service/internal/events"
	"asirinvest/core-service/internal/grpcserver"
	"asirinvest/core-service/internal/httpapi"
	"asirinvest/core-service/internal/scheduler"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fatal("config error", err)
	}
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ────────────────────────────────────────────────────────────────
	slog.Info("opening store", "driver", cfg.StoreDriver)
	st, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		fatal("store", err)
	}
	defer closeStore()
	slog.Info("store ready", "driver", cfg.StoreDriver)

	// ── Redis ────────────────────────────────────────────────────────────────
	slog.Info("connecting to Redis")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		fatal("redis", err)
	}
	defer rdb.Close()
	slog.Info("redis connected")

	provider, err := authProvider(cfg)
	if err != nil {
		fatal("auth", err)
	}

	core := app.New(st, rdb, events.NewRedisPublisher(rdb), app.OptionsFrom(cfg))

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(core.Fingerprint, core.Stats, cfg.VerifySchedule, cfg.StatsStaleness)
	if err := sched.Start(ctx); err != nil {
		fatal("scheduler", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	handler := httpapi.NewHandler(core.Opportunities, provider, version, cfg.StoreTimeout*2).
		WithTrustedProxies(cfg.TrustedProxies)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		slog.Info("http listening", "version", version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("http server", err)
		}
	}()

	// ── gRPC server ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		fatal("grpc listen", err)
	}
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(core.Opportunities, provider).WithTrustedProxies(cfg.TrustedProxies))
	go func() {
		slog.Info("grpc listening", "port", cfg.GRPCPort)
		if err := gs.Serve(lis); err != nil {
			fatal("grpc server", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		gs.Stop()
	}
	cancel()
	sched.Stop()
	slog.Info("stopped")
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var h slog.Handler
	if cfg.Development() {
		opts.Level = slog.LevelDebug
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h).With("service", "core-service"))
}

func authProvider(cfg *config.Config) (auth.Provider, error) {
	if cfg.AuthMode == "jwt" {
		return auth.NewJWT(cfg.JWTSecret)
	}
	return auth.GatewayHeaders{}, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
