package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/intervu-backend/internal/model"
)

const evaluationColumns = `id, candidate_id, test_session_id, technical_score, personality_score,
	problem_solving_score, total_score, detailed_results, status, created_at`

// EvaluationRepository handles evaluation data access.
type EvaluationRepository struct {
	pool *pgxpool.Pool
}

// NewEvaluationRepository creates a new EvaluationRepository.
func NewEvaluationRepository(pool *pgxpool.Pool) *EvaluationRepository {
	return &EvaluationRepository{pool: pool}
}

// CreateIfAbsent inserts e unless the session already has an evaluation.
// It returns the stored evaluation and whether this call created it.
func (r *EvaluationRepository) CreateIfAbsent(ctx context.Context, e *model.Evaluation) (*model.Evaluation, bool, error) {
	details, err := json.Marshal(e.DetailedResults)
	if err != nil {
		return nil, false, fmt.Errorf("marshal detailed results: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO evaluations (id, candidate_id, test_session_id, technical_score, personality_score,
		     problem_solving_score, total_score, detailed_results, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT ON CONSTRAINT evaluations_test_session_id_key DO NOTHING
		 RETURNING created_at`,
		e.ID, e.CandidateID, e.TestSessionID, e.TechnicalScore, e.PersonalityScore,
		e.ProblemSolvingScore, e.TotalScore, details, e.Status,
	).Scan(&e.CreatedAt)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert evaluation: %w", err)
	}

	existing, err := r.GetBySession(ctx, e.TestSessionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetBySession returns the evaluation recorded for a session.
func (r *EvaluationRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.Evaluation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE test_session_id = $1`, sessionID)
	return scanEvaluation(row)
}

// List returns one page of evaluations, newest first. candidateID 0 lists all.
func (r *EvaluationRepository) List(ctx context.Context, candidateID, limit, offset int) ([]model.Evaluation, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM evaluations WHERE ($1 = 0 OR candidate_id = $1)`, candidateID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations
		 WHERE ($1 = 0 OR candidate_id = $1)
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, candidateID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var evaluations []model.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, 0, err
		}
		evaluations = append(evaluations, *e)
	}
	return evaluations, total, rows.Err()
}

func scanEvaluation(row pgx.Row) (*model.Evaluation, error) {
	var (
		e       model.Evaluation
		details []byte
	)
	err := row.Scan(&e.ID, &e.CandidateID, &e.TestSessionID, &e.TechnicalScore, &e.PersonalityScore,
		&e.ProblemSolvingScore, &e.TotalScore, &details, &e.Status, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(details, &e.DetailedResults); err != nil {
		return nil, fmt.Errorf("unmarshal detailed results: %w", err)
	}
	return &e, nil
}
