package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisPingAttempts = 5
	redisPingBackoff  = 500 * time.Millisecond
)

// NewRedisClient connects to redisURL, retrying the initial ping while Redis
// comes up alongside the server. Session locks, event fan-out and the focus
// event queue all share this client.
func NewRedisClient(ctx context.Context, redisURL string, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	backoff := redisPingBackoff
	for attempt := 1; ; attempt++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			break
		}
		if attempt == redisPingAttempts {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis after %d attempts: %w", attempt, err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("Redis not ready")

		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Int("pool_size", opt.PoolSize).
		Msg("Redis connected")

	return rdb, nil
}
