package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/intervu-backend/internal/model"
)

// FocusEventRepository writes the focus-loss audit trail.
type FocusEventRepository struct {
	pool *pgxpool.Pool
}

// NewFocusEventRepository creates a new FocusEventRepository.
func NewFocusEventRepository(pool *pgxpool.Pool) *FocusEventRepository {
	return &FocusEventRepository{pool: pool}
}

// BulkInsert copies all events in one round trip.
func (r *FocusEventRepository) BulkInsert(ctx context.Context, events []model.FocusEvent) error {
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []any{ev.SessionID, ev.CandidateID, ev.Count, ev.Terminated, ev.RecordedAt})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"focus_events"},
		[]string{"session_id", "candidate_id", "count", "terminated", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert writes a single event.
func (r *FocusEventRepository) Insert(ctx context.Context, ev model.FocusEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO focus_events (session_id, candidate_id, count, terminated, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.SessionID, ev.CandidateID, ev.Count, ev.Terminated, ev.RecordedAt,
	)
	return err
}
