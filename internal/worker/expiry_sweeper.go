package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const sweepBatch = 100

// Expirer completes sessions whose time budget ran out by the server clock.
type Expirer interface {
	ExpireOverdueSessions(ctx context.Context, limit int) (int, error)
}

// ExpirySweeper periodically expires overdue in-progress sessions.
type ExpirySweeper struct {
	expirer  Expirer
	schedule string
	log      zerolog.Logger
}

// NewExpirySweeper creates a sweeper running on a cron schedule such as "@every 1m".
func NewExpirySweeper(expirer Expirer, schedule string, log zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		expirer:  expirer,
		schedule: schedule,
		log:      log.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Start schedules the sweep and blocks until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("ExpirySweeper started")

	<-ctx.Done()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		s.log.Warn().Msg("Sweep still running at shutdown")
	}
	return nil
}

// RunOnce sweeps until no overdue session is left and returns how many it expired.
func (s *ExpirySweeper) RunOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.expirer.ExpireOverdueSessions(ctx, sweepBatch)
		if err != nil {
			s.log.Error().Err(err).Msg("Expiry sweep failed")
			break
		}
		total += n
		if n < sweepBatch {
			break
		}
	}
	if total > 0 {
		s.log.Info().Int("expired", total).Msg("Expired overdue sessions")
	}
	return total
}
