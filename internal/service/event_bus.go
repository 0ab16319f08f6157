package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/model"
)

// RedisEventBus publishes session events over Redis Pub/Sub and queues
// focus-loss audit rows for the FocusEventWorker.
type RedisEventBus struct {
	rdb *redis.Client
}

// NewRedisEventBus creates a new RedisEventBus.
func NewRedisEventBus(rdb *redis.Client) *RedisEventBus {
	return &RedisEventBus{rdb: rdb}
}

// PublishSessionEvent sends ev to the session's own channel and the monitor channel.
func (b *RedisEventBus) PublishSessionEvent(ctx context.Context, ev model.SessionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.SessionEventsChannel(ev.SessionID.String()), data)
	pipe.Publish(ctx, config.CacheKey.MonitorChannel(), data)
	_, err = pipe.Exec(ctx)
	return err
}

// EnqueueFocusEvent pushes ev onto the audit queue.
func (b *RedisEventBus) EnqueueFocusEvent(ctx context.Context, ev model.FocusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal focus event: %w", err)
	}
	return b.rdb.RPush(ctx, config.WorkerKey.PersistFocusEventsQueue, data).Err()
}
