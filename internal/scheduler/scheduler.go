// Package scheduler wires up the cron jobs that keep the stats cache warm and
// periodically verify every stamped fingerprint.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"asirinvest/core-service/internal/model"
)

// Sweeper verifies every stamped opportunity.
type Sweeper interface {
	Sweep(ctx context.Context) (checked, tampered int, err error)
}

// Refresher recomputes the cached stats.
type Refresher interface {
	Refresh(ctx context.Context) (model.Stats, error)
}

// Scheduler wraps robfig/cron and owns the background jobs.
type Scheduler struct {
	cron         *cron.Cron
	sweeper      Sweeper
	refresher    Refresher
	verifySpec   string        // cron spec, e.g. "@every 6h"
	refreshEvery time.Duration // stats staleness window
}

// New creates a Scheduler. The stats job fires once per staleness window.
func New(sweeper Sweeper, refresher Refresher, verifySpec string, staleness time.Duration) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cron.DefaultLogger),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		sweeper:      sweeper,
		refresher:    refresher,
		verifySpec:   verifySpec,
		refreshEvery: staleness,
	}
}

// Start registers the jobs and starts the scheduler. The stats cache is also
// warmed immediately so the first reader does not pay for the rollup.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.verifySpec, func() { s.RunSweep(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc verify: %w", err)
	}
	if s.refreshEvery > 0 {
		s.cron.Schedule(cron.Every(s.refreshEvery), cron.FuncJob(func() { s.RunRefresh(ctx) }))
	}

	s.cron.Start()
	slog.Info("scheduler started", "verify", s.verifySpec, "statsEvery", s.refreshEvery)

	go s.RunRefresh(ctx)
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// RunSweep verifies every stamped opportunity once.
func (s *Scheduler) RunSweep(ctx context.Context) {
	started := time.Now()
	checked, tampered, err := s.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("provenance sweep failed", "checked", checked, "err", err)
		return
	}
	level := slog.LevelInfo
	if tampered > 0 {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "provenance sweep complete",
		"checked", checked, "tampered", tampered, "took", time.Since(started))
}

// RunRefresh recomputes the stats cache once.
func (s *Scheduler) RunRefresh(ctx context.Context) {
	if _, err := s.refresher.Refresh(ctx); err != nil {
		slog.Warn("stats refresh failed", "err", err)
	}
}
