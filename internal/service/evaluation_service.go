package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/grading"
	"github.com/stemsi/intervu-backend/internal/metrics"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
	"github.com/stemsi/intervu-backend/internal/response"
)

// EvaluationService grades terminal sessions and serves their evaluations.
type EvaluationService struct {
	evaluations EvaluationStore
	sessions    SessionStore
	weights     grading.Weights
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

// NewEvaluationService creates a new EvaluationService.
func NewEvaluationService(evaluations EvaluationStore, sessions SessionStore, weights grading.Weights, m *metrics.Metrics, log zerolog.Logger) *EvaluationService {
	return &EvaluationService{
		evaluations: evaluations,
		sessions:    sessions,
		weights:     weights,
		metrics:     m,
		log:         log.With().Str("component", "evaluation_service").Logger(),
	}
}

// Grade returns the session's evaluation, computing and storing it on first
// call. Concurrent calls for the same session all receive the stored row.
func (s *EvaluationService) Grade(ctx context.Context, sess *model.TestSession) (*model.Evaluation, error) {
	if !sess.Status.IsTerminal() {
		return nil, conflict("grade", sess)
	}

	start := time.Now()
	defer func() { s.metrics.GradingDuration.Observe(time.Since(start).Seconds()) }()

	existing, err := s.evaluations.GetBySession(ctx, sess.ID)
	switch {
	case err == nil:
		s.metrics.Gradings.WithLabelValues("existing").Inc()
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		s.metrics.Gradings.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("check evaluation: %w", err)
	}

	res := grading.Grade(sess.Questions, sess.Answers, s.weights)
	eval := &model.Evaluation{
		ID:                  uuid.New(),
		CandidateID:         sess.CandidateID,
		TestSessionID:       sess.ID,
		TechnicalScore:      res.TechnicalPercent,
		PersonalityScore:    res.PersonalityPercent,
		ProblemSolvingScore: res.ProblemSolvingPercent,
		TotalScore:          res.TotalScore,
		DetailedResults:     res.Details,
		Status:              model.EvaluationStatusCompleted,
	}

	stored, created, err := s.evaluations.CreateIfAbsent(ctx, eval)
	if err != nil {
		s.metrics.Gradings.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("store evaluation: %w", err)
	}

	if created {
		s.metrics.Gradings.WithLabelValues("created").Inc()
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Int("candidate_id", sess.CandidateID).
			Float64("total_score", stored.TotalScore).
			Msg("Session graded")
	} else {
		s.metrics.Gradings.WithLabelValues("existing").Inc()
	}
	return stored, nil
}

// Regrade grades a terminal session whose automatic grading failed. An
// existing evaluation is returned unchanged.
func (s *EvaluationService) Regrade(ctx context.Context, sessionID uuid.UUID) (*model.Evaluation, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s.Grade(ctx, sess)
}

// GetBySession returns the evaluation of a session.
func (s *EvaluationService) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.Evaluation, error) {
	eval, err := s.evaluations.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEvaluationNotFound
		}
		return nil, err
	}
	return eval, nil
}

// List returns a page of evaluations. candidateID 0 lists every candidate.
func (s *EvaluationService) List(ctx context.Context, candidateID, page, perPage int) ([]model.Evaluation, *response.Pagination, error) {
	page, perPage = normalizePage(page, perPage)

	evals, total, err := s.evaluations.List(ctx, candidateID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if evals == nil {
		evals = []model.Evaluation{}
	}
	return evals, paginate(page, perPage, total), nil
}
