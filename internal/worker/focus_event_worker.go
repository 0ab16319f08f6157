package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // BLPOP timeouts below 1s are rounded by Redis
)

// FocusEventWorker drains the focus-event queue into the focus_events table.
type FocusEventWorker struct {
	store FocusEventStore
	rdb   *redis.Client
	log   zerolog.Logger
	retry time.Duration
}

// FocusEventStore writes audit rows.
type FocusEventStore interface {
	BulkInsert(ctx context.Context, events []model.FocusEvent) error
	Insert(ctx context.Context, ev model.FocusEvent) error
}

// NewFocusEventWorker creates a new FocusEventWorker.
func NewFocusEventWorker(store FocusEventStore, rdb *redis.Client, log zerolog.Logger) *FocusEventWorker {
	return &FocusEventWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "focus_event_worker").Logger(),
		retry: 2 * time.Second,
	}
}

// Start blocks until ctx is cancelled, flushing batches by size or age.
func (w *FocusEventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("FocusEventWorker started")

	buffer := make([]model.FocusEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistFocusEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var ev model.FocusEvent
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed focus event")
			continue
		}
		buffer = append(buffer, ev)
	}
}

// flushSafe tries one bulk insert, then row by row. Rows that still fail are requeued.
func (w *FocusEventWorker) flushSafe(ctx context.Context, batch []model.FocusEvent) {
	err := w.store.BulkInsert(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, falling back to row inserts")

	var failed []model.FocusEvent
	for _, ev := range batch {
		if err := w.store.Insert(ctx, ev); err != nil {
			w.log.Error().Err(err).Str("session_id", ev.SessionID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, ev)
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *FocusEventWorker) requeue(ctx context.Context, items []model.FocusEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistFocusEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("Failed to requeue focus events, data lost")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued focus events")
	time.Sleep(w.retry)
}

func (w *FocusEventWorker) shutdown(buffer []model.FocusEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer")
	if len(buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(ctx, buffer)
}
