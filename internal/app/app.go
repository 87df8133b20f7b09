// Package app wires the core components onto one store backend.
package app

import (
	"time"

	"github.com/redis/go-redis/v9"

	"asirinvest/core-service/internal/comment"
	"asirinvest/core-service/internal/events"
	"asirinvest/core-service/internal/fingerprint"
	"asirinvest/core-service/internal/nda"
	"asirinvest/core-service/internal/opportunity"
	"asirinvest/core-service/internal/retry"
	"asirinvest/core-service/internal/stats"
	"asirinvest/core-service/internal/vote"
)

// Store is satisfied by both backends (store/postgres and store/memory).
type Store interface {
	opportunity.BaseStore
	fingerprint.Store
	nda.Store
	vote.Store
	comment.Store
	stats.Source
}

// Options tunes the components.
type Options struct {
	Retry              retry.Policy
	AcceptanceBaseline int
	StatsStaleness     time.Duration
}

// App holds the wired components.
type App struct {
	Opportunities *opportunity.Service
	Fingerprint   *fingerprint.Service
	Stats         *stats.Aggregator
}

// New wires every component onto st. rdb may be nil, which disables the
// stats cache; pub may be events.Nop{}.
func New(st Store, rdb *redis.Client, pub events.Publisher, opts Options) *App {
	fp := fingerprint.NewService(st, pub, opts.Retry)
	agg := stats.NewAggregator(st, rdb, opts.StatsStaleness)
	svc := opportunity.NewService(st, opportunity.Components{
		Fingerprint: fp,
		Gate:        nda.NewGate(st, fp, pub, opts.Retry),
		Votes:       vote.NewLedger(st, pub, opts.Retry, opts.AcceptanceBaseline),
		Comments:    comment.NewService(st, pub, opts.Retry),
		Stats:       agg,
	}, opts.Retry)
	return &App{Opportunities: svc, Fingerprint: fp, Stats: agg}
}
