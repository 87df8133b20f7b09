// Package stats serves the platform-wide rollup.
//
// Consistency policy: eventual. A snapshot is cached in Redis for the
// staleness window, so a reader may see totals up to that old. The scheduler
// refreshes the cache every window; a cache miss or a Redis failure computes
// the rollup directly from the store.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"asirinvest/core-service/internal/model"
)

// CacheKey is the Redis key holding the cached rollup.
const CacheKey = "stats:platform"

// Source computes the rollup from the ledgers.
type Source interface {
	ComputeStats(ctx context.Context) (model.Stats, error)
}

// Aggregator serves cached platform stats.
type Aggregator struct {
	src       Source
	rdb       *redis.Client
	staleness time.Duration
}

// NewAggregator returns an Aggregator. A nil rdb disables caching.
func NewAggregator(src Source, rdb *redis.Client, staleness time.Duration) *Aggregator {
	return &Aggregator{src: src, rdb: rdb, staleness: staleness}
}

// Staleness is the longest a served snapshot may lag behind the ledgers.
func (a *Aggregator) Staleness() time.Duration { return a.staleness }

// Snapshot returns the cached rollup, computing and caching it on a miss.
func (a *Aggregator) Snapshot(ctx context.Context) (model.Stats, error) {
	if a.rdb != nil && a.staleness > 0 {
		raw, err := a.rdb.Get(ctx, CacheKey).Bytes()
		switch {
		case err == nil:
			var st model.Stats
			if jerr := json.Unmarshal(raw, &st); jerr == nil {
				return st, nil
			}
			slog.Warn("stats cache entry unreadable", "key", CacheKey)
		case !errors.Is(err, redis.Nil):
			slog.Warn("stats cache read failed", "err", err)
		}
	}
	return a.Refresh(ctx)
}

// Refresh recomputes the rollup and replaces the cached copy.
func (a *Aggregator) Refresh(ctx context.Context) (model.Stats, error) {
	st, err := a.src.ComputeStats(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("compute stats: %w", err)
	}
	if a.rdb == nil || a.staleness <= 0 {
		return st, nil
	}
	body, _ := json.Marshal(st)
	if err := a.rdb.Set(ctx, CacheKey, body, a.staleness).Err(); err != nil {
		slog.Warn("stats cache write failed", "err", err)
	}
	return st, nil
}
