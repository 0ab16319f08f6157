package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/intervu-backend/internal/database"
	"github.com/stemsi/intervu-backend/internal/model"
)

const sessionColumns = `id, candidate_id, field, level, status, questions, answers,
	remaining_time, total_time, cheating_attempts, focus_lost_count,
	started_at, completed_at, terminated_at, termination_reason,
	version, created_at, updated_at`

// TestSessionRepository handles test session data access.
type TestSessionRepository struct {
	pool *pgxpool.Pool
}

// NewTestSessionRepository creates a new TestSessionRepository.
func NewTestSessionRepository(pool *pgxpool.Pool) *TestSessionRepository {
	return &TestSessionRepository{pool: pool}
}

// Create inserts a new session. The partial unique index on candidate_id
// rejects a second active session.
func (r *TestSessionRepository) Create(ctx context.Context, s *model.TestSession) error {
	questions, err := json.Marshal(s.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	answers, err := marshalAnswers(s.Answers)
	if err != nil {
		return err
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO test_sessions (id, candidate_id, field, level, status, questions, answers,
		     remaining_time, total_time, started_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
		 RETURNING created_at, updated_at`,
		s.ID, s.CandidateID, s.Field, s.Level, s.Status, questions, answers,
		s.RemainingTime, s.TotalTime, s.StartedAt,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, activeSessionIndex) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	s.Version = 0
	return nil
}

// GetByID retrieves a session by id.
func (r *TestSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TestSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetActiveByCandidate returns the candidate's not-started or in-progress session.
func (r *TestSessionRepository) GetActiveByCandidate(ctx context.Context, candidateID int) (*model.TestSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions
		 WHERE candidate_id = $1 AND status IN ('not-started', 'in-progress')`, candidateID)
	return scanSession(row)
}

// Update writes every mutable column if the stored version still matches
// s.Version. On success s.Version is advanced; otherwise ErrVersionConflict.
func (r *TestSessionRepository) Update(ctx context.Context, s *model.TestSession) error {
	answers, err := marshalAnswers(s.Answers)
	if err != nil {
		return err
	}

	var updatedAt time.Time
	err = r.pool.QueryRow(ctx,
		`UPDATE test_sessions
		 SET status = $3,
		     answers = $4,
		     remaining_time = $5,
		     total_time = $6,
		     cheating_attempts = $7,
		     focus_lost_count = $8,
		     started_at = $9,
		     completed_at = $10,
		     terminated_at = $11,
		     termination_reason = $12,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $1 AND version = $2
		 RETURNING updated_at`,
		s.ID, s.Version, s.Status, answers, s.RemainingTime, s.TotalTime,
		s.CheatingAttempts, s.FocusLostCount, s.StartedAt, s.CompletedAt,
		s.TerminatedAt, s.TerminationReason,
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVersionConflict
		}
		return fmt.Errorf("update session: %w", err)
	}

	s.Version++
	s.UpdatedAt = updatedAt
	return nil
}

// ListOverdue returns in-progress sessions whose time budget ended before now.
func (r *TestSessionRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM test_sessions
		 WHERE status = 'in-progress'
		   AND started_at + make_interval(secs => total_time) < $1
		 ORDER BY started_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns the number of sessions per status.
func (r *TestSessionRepository) CountByStatus(ctx context.Context) (map[model.SessionStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM test_sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SessionStatus]int)
	for rows.Next() {
		var status model.SessionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListInProgress returns every in-progress session, newest first.
func (r *TestSessionRepository) ListInProgress(ctx context.Context) ([]model.TestSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions
		 WHERE status = 'in-progress'
		 ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.TestSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*model.TestSession, error) {
	var (
		s         model.TestSession
		questions []byte
		answers   []byte
	)
	err := row.Scan(
		&s.ID, &s.CandidateID, &s.Field, &s.Level, &s.Status, &questions, &answers,
		&s.RemainingTime, &s.TotalTime, &s.CheatingAttempts, &s.FocusLostCount,
		&s.StartedAt, &s.CompletedAt, &s.TerminatedAt, &s.TerminationReason,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(questions, &s.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	if err := json.Unmarshal(answers, &s.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	if s.Answers == nil {
		s.Answers = []model.Answer{}
	}
	return &s, nil
}

func marshalAnswers(answers []model.Answer) ([]byte, error) {
	if answers == nil {
		answers = []model.Answer{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	return b, nil
}
