// Package events publishes domain events to Redis pub/sub so the gateway can
// forward them over SSE. Publishing is always non-fatal.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Channel names.
const (
	OpportunityStamped = "EVENT_OPPORTUNITY_STAMPED"
	VoteCast           = "EVENT_VOTE_CAST"
	CommentAdded       = "EVENT_COMMENT_ADDED"
	NDAAccepted        = "EVENT_NDA_ACCEPTED"
	TamperDetected     = "EVENT_TAMPER_DETECTED"
)

// Publisher emits an event. Implementations must not fail the caller.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload map[string]any)
}

// RedisPublisher publishes JSON payloads with PUBLISH.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher returns a Publisher backed by rdb.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish adds a "type" field set to channel and publishes the payload.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload map[string]any) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["type"] = channel

	event, err := json.Marshal(body)
	if err != nil {
		slog.Warn("marshal event failed", "channel", channel, "err", err)
		return
	}
	if err := p.rdb.Publish(ctx, channel, event).Err(); err != nil {
		slog.Warn("publish event failed", "channel", channel, "err", err)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, map[string]any) {}
