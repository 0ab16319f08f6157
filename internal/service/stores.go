package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
	"github.com/stemsi/intervu-backend/internal/response"
)

// SessionStore persists test sessions. Update must fail with
// repository.ErrVersionConflict when s.Version is stale.
type SessionStore interface {
	Create(ctx context.Context, s *model.TestSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.TestSession, error)
	GetActiveByCandidate(ctx context.Context, candidateID int) (*model.TestSession, error)
	Update(ctx context.Context, s *model.TestSession) error
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	CountByStatus(ctx context.Context) (map[model.SessionStatus]int, error)
	ListInProgress(ctx context.Context) ([]model.TestSession, error)
}

// EvaluationStore persists evaluations, at most one per session.
type EvaluationStore interface {
	CreateIfAbsent(ctx context.Context, e *model.Evaluation) (*model.Evaluation, bool, error)
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.Evaluation, error)
	List(ctx context.Context, candidateID, limit, offset int) ([]model.Evaluation, int, error)
}

// QuestionBank is the read/write view of the question bank.
type QuestionBank interface {
	ListPool(ctx context.Context, field, level string, qType model.QuestionType, format model.QuestionFormat) ([]model.Question, error)
	List(ctx context.Context, f repository.QuestionFilter, limit, offset int) ([]model.Question, int, error)
	Create(ctx context.Context, q *model.Question) error
}

// UserStore looks up accounts for authentication.
type UserStore interface {
	GetByID(ctx context.Context, id int) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// EventPublisher fans out session activity to live listeners and the
// focus-event audit queue.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, ev model.SessionEvent) error
	EnqueueFocusEvent(ctx context.Context, ev model.FocusEvent) error
}

func paginate(page, perPage, total int) *response.Pagination {
	return &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
