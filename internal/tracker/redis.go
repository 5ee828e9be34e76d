package tracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// Redis storage layout defaults.
const (
	DefaultKeyPrefix     = "workflow:realtime:"
	DefaultChannelPrefix = "workflow:updates:"
	DefaultTTL           = 3600 * time.Second
	defaultRedisTimeout  = 2 * time.Second
)

// RedisTracker mirrors snapshots into Redis: the latest snapshot is kept
// under workflow:realtime:{id} and every snapshot is published on
// workflow:updates:{id}. When the workflow reaches a terminal status the key
// gets a TTL so finished runs age out.
//
// Sink failures are logged at Warn and never surface to the engine.
type RedisTracker struct {
	client        redis.UniversalClient
	keyPrefix     string
	channelPrefix string
	ttl           time.Duration
	logger        *slog.Logger
}

// RedisOption configures a RedisTracker.
type RedisOption func(*RedisTracker)

// WithKeyPrefix overrides the realtime key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(t *RedisTracker) { t.keyPrefix = prefix }
}

// WithChannelPrefix overrides the pub-sub channel prefix.
func WithChannelPrefix(prefix string) RedisOption {
	return func(t *RedisTracker) { t.channelPrefix = prefix }
}

// WithTTL overrides the TTL applied when the workflow ends.
func WithTTL(ttl time.Duration) RedisOption {
	return func(t *RedisTracker) { t.ttl = ttl }
}

// WithLogger overrides the failure logger.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(t *RedisTracker) { t.logger = logger }
}

// NewRedisTracker creates a tracker backed by the given Redis client.
func NewRedisTracker(client redis.UniversalClient, opts ...RedisOption) *RedisTracker {
	t := &RedisTracker{
		client:        client,
		keyPrefix:     DefaultKeyPrefix,
		channelPrefix: DefaultChannelPrefix,
		ttl:           DefaultTTL,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track stores and publishes the snapshot. Never returns or panics on sink
// failure.
func (t *RedisTracker) Track(ctx context.Context, workflowID string, snap *schema.Snapshot) {
	if snap == nil {
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		t.logger.Warn("tracker: marshal snapshot failed",
			"workflow_id", workflowID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRedisTimeout)
	defer cancel()

	key := t.keyPrefix + workflowID
	if err := t.client.Set(ctx, key, payload, 0).Err(); err != nil {
		t.logger.Warn("tracker: redis SET failed",
			"workflow_id", workflowID, "key", key, "error", err)
	}

	channel := t.channelPrefix + workflowID
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		t.logger.Warn("tracker: redis PUBLISH failed",
			"workflow_id", workflowID, "channel", channel, "error", err)
	}

	if schema.IsTerminalWorkflow(snap.Status) && t.ttl > 0 {
		if err := t.client.Expire(ctx, key, t.ttl).Err(); err != nil {
			t.logger.Warn("tracker: redis EXPIRE failed",
				"workflow_id", workflowID, "key", key, "error", err)
		}
	}
}

var _ Tracker = (*RedisTracker)(nil)
