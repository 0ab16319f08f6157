package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

type memFocusStore struct {
	mu        sync.Mutex
	bulkErr   error
	failIDs   map[uuid.UUID]bool
	inserted  []model.FocusEvent
	bulkCalls int
}

func (s *memFocusStore) BulkInsert(_ context.Context, events []model.FocusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls++
	if s.bulkErr != nil {
		return s.bulkErr
	}
	s.inserted = append(s.inserted, events...)
	return nil
}

func (s *memFocusStore) Insert(_ context.Context, ev model.FocusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[ev.SessionID] {
		return errors.New("insert failed")
	}
	s.inserted = append(s.inserted, ev)
	return nil
}

func (s *memFocusStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

func pushFocusEvent(t *testing.T, mr *miniredis.Miniredis, ev model.FocusEvent) {
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	_, err = mr.RPush(config.WorkerKey.PersistFocusEventsQueue, string(data))
	require.NoError(t, err)
}

func TestFocusEventWorkerFlushesOnShutdown(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	store := &memFocusStore{}
	w := NewFocusEventWorker(store, rdb, zerolog.Nop())

	for i := 1; i <= 3; i++ {
		pushFocusEvent(t, mr, model.FocusEvent{SessionID: uuid.New(), Count: i})
	}
	_, err := mr.RPush(config.WorkerKey.PersistFocusEventsQueue, "{not json")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		items, _ := mr.List(config.WorkerKey.PersistFocusEventsQueue)
		return len(items) == 0
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 3, store.len())
}

func TestFlushSafeFallsBackAndRequeues(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	bad := uuid.New()
	store := &memFocusStore{bulkErr: errors.New("copy failed"), failIDs: map[uuid.UUID]bool{bad: true}}
	w := NewFocusEventWorker(store, rdb, zerolog.Nop())
	w.retry = 0

	w.flushSafe(context.Background(), []model.FocusEvent{
		{SessionID: uuid.New(), Count: 1},
		{SessionID: bad, Count: 2},
	})

	assert.Equal(t, 1, store.len())
	items, err := mr.List(config.WorkerKey.PersistFocusEventsQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var ev model.FocusEvent
	require.NoError(t, json.Unmarshal([]byte(items[0]), &ev))
	assert.Equal(t, bad, ev.SessionID)
}

type countingExpirer struct {
	mu      sync.Mutex
	batches []int
	calls   int
	err     error
}

func (e *countingExpirer) ExpireOverdueSessions(_ context.Context, limit int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return 0, e.err
	}
	if len(e.batches) == 0 {
		return 0, nil
	}
	n := e.batches[0]
	e.batches = e.batches[1:]
	return n, nil
}

func TestExpirySweeperRunOnceDrainsBatches(t *testing.T) {
	exp := &countingExpirer{batches: []int{sweepBatch, sweepBatch, 7}}
	s := NewExpirySweeper(exp, "@every 1m", zerolog.Nop())

	assert.Equal(t, 2*sweepBatch+7, s.RunOnce(context.Background()))
	assert.Equal(t, 3, exp.calls)
}

func TestExpirySweeperStopsOnError(t *testing.T) {
	exp := &countingExpirer{err: errors.New("db down")}
	s := NewExpirySweeper(exp, "@every 1m", zerolog.Nop())

	assert.Equal(t, 0, s.RunOnce(context.Background()))
	assert.Equal(t, 1, exp.calls)
}

func TestExpirySweeperRejectsBadSchedule(t *testing.T) {
	s := NewExpirySweeper(&countingExpirer{}, "not a schedule", zerolog.Nop())
	assert.Error(t, s.Start(context.Background()))
}

func TestExpirySweeperRunsOnSchedule(t *testing.T) {
	exp := &countingExpirer{}
	s := NewExpirySweeper(exp, "@every 1s", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		exp.mu.Lock()
		defer exp.mu.Unlock()
		return exp.calls > 0
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
