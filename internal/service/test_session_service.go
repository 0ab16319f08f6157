package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/lock"
	"github.com/stemsi/intervu-backend/internal/metrics"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
)

// Session event types published on every accepted change.
const (
	EventSessionCreated    = "session.created"
	EventSessionStarted    = "session.started"
	EventAnswerSaved       = "answer.saved"
	EventFocusLost         = "focus.lost"
	EventTimeReported      = "time.reported"
	EventSessionCompleted  = "session.completed"
	EventSessionTerminated = "session.terminated"
)

// Operation names used in conflict errors and metrics labels.
const (
	opCreate     = "create session"
	opStart      = "start session"
	opAnswer     = "submit answer"
	opFocusLost  = "report focus loss"
	opReportTime = "report remaining time"
	opComplete   = "complete session"
	opExpire     = "expire session"
)

// FocusStatus is the outcome kind of a focus-loss report.
type FocusStatus string

const (
	FocusWarning    FocusStatus = "warning"
	FocusTerminated FocusStatus = "terminated"
)

// Snapshotter supplies the question set of a new session.
type Snapshotter interface {
	Snapshot(ctx context.Context, field, level string) ([]model.Question, error)
}

// Grader produces the single evaluation of a terminal session.
type Grader interface {
	Grade(ctx context.Context, sess *model.TestSession) (*model.Evaluation, error)
}

// Outcome is the result of a mutating session operation.
type Outcome struct {
	Session        *model.TestSession
	Evaluation     *model.Evaluation
	GradingPending bool
}

// FocusReport is returned for every accepted focus-loss report.
type FocusReport struct {
	Status            FocusStatus              `json:"status"`
	FocusLostCount    int                      `json:"focus_lost_count"`
	RemainingAttempts int                      `json:"remaining_attempts"`
	TerminationReason *model.TerminationReason `json:"termination_reason,omitempty"`
	Evaluation        *model.EvaluationSummary `json:"evaluation,omitempty"`
	GradingPending    bool                     `json:"grading_pending,omitempty"`
}

// TimeReport is returned for every accepted remaining-time report.
// Result is "ack" while the session runs and "completed" once time ran out.
type TimeReport struct {
	Result            string                   `json:"result"`
	Status            model.SessionStatus      `json:"status"`
	RemainingTime     int                      `json:"remaining_time"`
	TerminationReason *model.TerminationReason `json:"termination_reason,omitempty"`
	Evaluation        *model.EvaluationSummary `json:"evaluation,omitempty"`
	GradingPending    bool                     `json:"grading_pending,omitempty"`
}

// CompletionResult is returned when a session is completed on request.
type CompletionResult struct {
	Status            model.SessionStatus      `json:"status"`
	TerminationReason *model.TerminationReason `json:"termination_reason,omitempty"`
	Evaluation        *model.EvaluationSummary `json:"evaluation,omitempty"`
	GradingPending    bool                     `json:"grading_pending,omitempty"`
}

type transition struct {
	event string
	// to is empty when the status did not change.
	to     model.SessionStatus
	reason string
}

type mutation func(sess *model.TestSession, now time.Time) (*transition, error)

var systemCaller = model.Caller{Role: model.RoleAdmin}

// TestSessionService runs the session state machine. Every read-modify-write
// of a session happens under the session's lock and is persisted with a
// version-checked update.
type TestSessionService struct {
	sessions  SessionStore
	questions Snapshotter
	grader    Grader
	locker    lock.Locker
	events    EventPublisher
	metrics   *metrics.Metrics
	policy    config.Policy
	now       func() time.Time
	log       zerolog.Logger
}

// NewTestSessionService creates a new TestSessionService.
func NewTestSessionService(
	sessions SessionStore,
	questions Snapshotter,
	grader Grader,
	locker lock.Locker,
	events EventPublisher,
	m *metrics.Metrics,
	policy config.Policy,
	log zerolog.Logger,
) *TestSessionService {
	return &TestSessionService{
		sessions:  sessions,
		questions: questions,
		grader:    grader,
		locker:    locker,
		events:    events,
		metrics:   m,
		policy:    policy,
		now:       time.Now,
		log:       log.With().Str("component", "session_service").Logger(),
	}
}

// SetClock replaces the time source.
func (s *TestSessionService) SetClock(now func() time.Time) { s.now = now }

// CreateSession snapshots questions for a candidate. With autoStart the
// session begins in-progress immediately; otherwise it waits for StartSession.
func (s *TestSessionService) CreateSession(ctx context.Context, candidateID int, field, level string, autoStart bool) (*model.TestSession, error) {
	active, err := s.sessions.GetActiveByCandidate(ctx, candidateID)
	if err == nil {
		s.reject(opCreate, ErrActiveSessionExists)
		return nil, activeConflict(active)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check active session: %w", err)
	}

	questions, err := s.questions.Snapshot(ctx, field, level)
	if err != nil {
		return nil, err
	}

	total := int(s.policy.TestDuration.Seconds())
	sess := &model.TestSession{
		ID:            uuid.New(),
		CandidateID:   candidateID,
		Field:         field,
		Level:         level,
		Status:        model.SessionStatusNotStarted,
		Questions:     questions,
		Answers:       []model.Answer{},
		RemainingTime: total,
		TotalTime:     total,
	}
	t := &transition{event: EventSessionCreated, to: model.SessionStatusNotStarted, reason: "created"}
	if autoStart {
		now := s.now()
		sess.Status = model.SessionStatusInProgress
		sess.StartedAt = &now
		t = &transition{event: EventSessionStarted, to: model.SessionStatusInProgress, reason: "start"}
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			s.reject(opCreate, ErrActiveSessionExists)
			if active, gerr := s.sessions.GetActiveByCandidate(ctx, candidateID); gerr == nil {
				return nil, activeConflict(active)
			}
			return nil, &StatusConflictError{Op: opCreate, Current: model.SessionStatusInProgress, cause: ErrActiveSessionExists}
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.announce(ctx, sess, t)
	return sess, nil
}

// StartSession moves a not-started session to in-progress and starts its clock.
func (s *TestSessionService) StartSession(ctx context.Context, id uuid.UUID, caller model.Caller) (*model.TestSession, error) {
	out, err := s.mutate(ctx, id, caller, opStart, func(sess *model.TestSession, now time.Time) (*transition, error) {
		if sess.Status != model.SessionStatusNotStarted {
			return nil, conflict(opStart, sess)
		}
		total := int(s.policy.TestDuration.Seconds())
		sess.Status = model.SessionStatusInProgress
		sess.StartedAt = &now
		sess.TotalTime = total
		sess.RemainingTime = total
		return &transition{event: EventSessionStarted, to: model.SessionStatusInProgress, reason: "start"}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.Session, nil
}

// SubmitAnswer upserts one ledger entry.
func (s *TestSessionService) SubmitAnswer(ctx context.Context, id uuid.UUID, caller model.Caller, questionID uuid.UUID, value model.AnswerValue) (*model.TestSession, error) {
	if !value.IsIndex() && !value.IsText() {
		err := invalid("value", "must be an integer index or text")
		s.reject(opAnswer, err)
		return nil, err
	}

	out, err := s.mutate(ctx, id, caller, opAnswer, func(sess *model.TestSession, now time.Time) (*transition, error) {
		if sess.Status != model.SessionStatusInProgress {
			return nil, conflict(opAnswer, sess)
		}
		v, err := normalizeAnswer(sess.Questions, questionID, value)
		if err != nil {
			return nil, err
		}
		sess.Answers = upsertAnswer(sess.Answers, sess.Questions, questionID, v, now)
		return &transition{event: EventAnswerSaved}, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AnswersSaved.Inc()
	return out.Session, nil
}

// ReportFocusLost counts one focus loss. The report that brings the counter
// to the threshold terminates the session for cheating and grades it.
func (s *TestSessionService) ReportFocusLost(ctx context.Context, id uuid.UUID, caller model.Caller) (*FocusReport, error) {
	threshold := s.policy.FocusLossThreshold

	out, err := s.mutate(ctx, id, caller, opFocusLost, func(sess *model.TestSession, now time.Time) (*transition, error) {
		if sess.Status != model.SessionStatusInProgress {
			return nil, finished(opFocusLost, sess)
		}
		sess.FocusLostCount++
		if sess.FocusLostCount < threshold {
			return &transition{event: EventFocusLost}, nil
		}

		reason := model.TerminationCheating
		sess.Status = model.SessionStatusTerminated
		sess.TerminatedAt = &now
		sess.TerminationReason = &reason
		return &transition{event: EventSessionTerminated, to: model.SessionStatusTerminated, reason: string(reason)}, nil
	})
	if err != nil {
		return nil, err
	}

	sess := out.Session
	s.metrics.FocusLost.Inc()
	s.audit(ctx, sess)

	report := &FocusReport{
		Status:         FocusWarning,
		FocusLostCount: sess.FocusLostCount,
	}
	if sess.Status == model.SessionStatusTerminated {
		report.Status = FocusTerminated
		report.TerminationReason = sess.TerminationReason
		report.Evaluation = out.Evaluation.Summary()
		report.GradingPending = out.GradingPending
	} else {
		report.RemainingAttempts = threshold - sess.FocusLostCount
	}
	return report, nil
}

// ReportRemainingTime records the client's remaining-time report. The stored
// value never increases. A report of zero completes the session as time-expired.
func (s *TestSessionService) ReportRemainingTime(ctx context.Context, id uuid.UUID, caller model.Caller, seconds float64) (*TimeReport, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		err := invalid("remaining_seconds", "must be a non-negative number")
		s.reject(opReportTime, err)
		return nil, err
	}
	out, err := s.mutate(ctx, id, caller, opReportTime, func(sess *model.TestSession, now time.Time) (*transition, error) {
		if sess.Status != model.SessionStatusInProgress {
			return nil, conflict(opReportTime, sess)
		}
		// Compare before converting: huge reports overflow int.
		if seconds < float64(sess.RemainingTime) {
			sess.RemainingTime = int(math.Ceil(seconds))
		}
		if sess.RemainingTime > 0 {
			return &transition{event: EventTimeReported}, nil
		}
		return expire(sess, now), nil
	})
	if err != nil {
		return nil, err
	}

	sess := out.Session
	report := &TimeReport{
		Result:        "ack",
		Status:        sess.Status,
		RemainingTime: sess.RemainingTime,
	}
	if sess.Status.IsTerminal() {
		report.Result = "completed"
		report.TerminationReason = sess.TerminationReason
		report.Evaluation = out.Evaluation.Summary()
		report.GradingPending = out.GradingPending
	}
	return report, nil
}

// RequestCompletion completes an in-progress session on the candidate's request.
func (s *TestSessionService) RequestCompletion(ctx context.Context, id uuid.UUID, caller model.Caller) (*CompletionResult, error) {
	out, err := s.mutate(ctx, id, caller, opComplete, func(sess *model.TestSession, now time.Time) (*transition, error) {
		if sess.Status != model.SessionStatusInProgress {
			return nil, conflict(opComplete, sess)
		}
		sess.Status = model.SessionStatusCompleted
		sess.CompletedAt = &now
		sess.TerminationReason = nil
		return &transition{event: EventSessionCompleted, to: model.SessionStatusCompleted, reason: "completed"}, nil
	})
	if err != nil {
		return nil, err
	}

	return &CompletionResult{
		Status:            out.Session.Status,
		TerminationReason: out.Session.TerminationReason,
		Evaluation:        out.Evaluation.Summary(),
		GradingPending:    out.GradingPending,
	}, nil
}

// GetSession returns the caller's view of a session. Candidates only see
// their own sessions, without answer keys.
func (s *TestSessionService) GetSession(ctx context.Context, id uuid.UUID, caller model.Caller) (*model.SessionView, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && sess.CandidateID != caller.UserID {
		return nil, ErrForbidden
	}

	if s.policy.ServerDeadlineCheck && overdue(sess, s.now()) {
		out, err := s.mutate(ctx, id, caller, opExpire, func(sess *model.TestSession, now time.Time) (*transition, error) {
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		sess = out.Session
	}

	v := sess.View(caller.IsAdmin())
	return &v, nil
}

// GetActiveSession returns the candidate's not-started or in-progress session.
func (s *TestSessionService) GetActiveSession(ctx context.Context, candidateID int) (*model.SessionView, error) {
	sess, err := s.sessions.GetActiveByCandidate(ctx, candidateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	v := sess.View(false)
	return &v, nil
}

// ExpireOverdue completes an in-progress session as time-expired if its time
// budget has run out by the server clock. It returns a nil Outcome when the
// session still has time.
func (s *TestSessionService) ExpireOverdue(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	out, err := s.mutate(ctx, id, systemCaller, opExpire, func(sess *model.TestSession, now time.Time) (*transition, error) {
		if sess.Status != model.SessionStatusInProgress {
			return nil, conflict(opExpire, sess)
		}
		if !overdue(sess, now) {
			return nil, nil
		}
		return expire(sess, now), nil
	})
	if err != nil {
		return nil, err
	}
	if !out.Session.Status.IsTerminal() {
		return nil, nil
	}
	return out, nil
}

// ExpireOverdueSessions sweeps up to limit overdue sessions and returns how
// many it completed.
func (s *TestSessionService) ExpireOverdueSessions(ctx context.Context, limit int) (int, error) {
	ids, err := s.sessions.ListOverdue(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}

	expired := 0
	for _, id := range ids {
		out, err := s.ExpireOverdue(ctx, id)
		if err != nil {
			var conflictErr *StatusConflictError
			if errors.As(err, &conflictErr) {
				continue
			}
			s.log.Warn().Err(err).Str("session_id", id.String()).Msg("Failed to expire overdue session")
			continue
		}
		if out != nil {
			expired++
		}
	}
	return expired, nil
}

// mutate loads the session under its lock, applies fn and persists the
// result. Terminal transitions are graded before the lock is released.
func (s *TestSessionService) mutate(ctx context.Context, id uuid.UUID, caller model.Caller, op string, fn mutation) (*Outcome, error) {
	var (
		out Outcome
		t   *transition
	)

	waitStart := time.Now()
	err := s.locker.WithLock(ctx, config.CacheKey.SessionLockKey(id.String()), func(ctx context.Context) error {
		s.metrics.LockWait.Observe(time.Since(waitStart).Seconds())

		sess, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !caller.IsAdmin() && sess.CandidateID != caller.UserID {
			return ErrForbidden
		}

		now := s.now()
		var opErr error
		if s.policy.ServerDeadlineCheck && overdue(sess, now) {
			t = expire(sess, now)
			opErr = deadlineError(op, sess)
		} else {
			t, err = fn(sess, now)
			if err != nil {
				return err
			}
		}

		out.Session = sess
		if t == nil {
			return opErr
		}

		if err := s.sessions.Update(ctx, sess); err != nil {
			out.Session = nil
			if errors.Is(err, repository.ErrVersionConflict) {
				return s.reloadConflict(ctx, op, id)
			}
			return fmt.Errorf("update session: %w", err)
		}

		if t.to.IsTerminal() {
			out.Evaluation, out.GradingPending = s.grade(ctx, sess)
		}
		return opErr
	})

	if out.Session != nil && t != nil {
		s.announce(ctx, out.Session, t)
	}
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			err = ErrSessionBusy
		}
		s.reject(op, err)
		return nil, err
	}
	return &out, nil
}

func (s *TestSessionService) load(ctx context.Context, id uuid.UUID) (*model.TestSession, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *TestSessionService) reloadConflict(ctx context.Context, op string, id uuid.UUID) error {
	fresh, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if op == opFocusLost && fresh.Status != model.SessionStatusInProgress {
		return finished(op, fresh)
	}
	return conflict(op, fresh)
}

// grade never fails the caller. A grading error leaves the evaluation to a
// later manual regrade.
func (s *TestSessionService) grade(ctx context.Context, sess *model.TestSession) (*model.Evaluation, bool) {
	gradeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	eval, err := s.grader.Grade(gradeCtx, sess)
	if err != nil {
		s.log.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Int("candidate_id", sess.CandidateID).
			Msg("Grading failed, manual regrade required")
		return nil, true
	}
	return eval, false
}

func (s *TestSessionService) announce(ctx context.Context, sess *model.TestSession, t *transition) {
	if t.to != "" {
		s.metrics.Transitions.WithLabelValues(string(t.to), t.reason).Inc()
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Int("candidate_id", sess.CandidateID).
			Str("to", string(t.to)).
			Str("reason", t.reason).
			Msg("Session transition")
	}

	ev := model.SessionEvent{
		Type:           t.event,
		SessionID:      sess.ID,
		CandidateID:    sess.CandidateID,
		Status:         sess.Status,
		FocusLostCount: sess.FocusLostCount,
		RemainingTime:  sess.RemainingTime,
		AnsweredCount:  len(sess.Answers),
		At:             s.now(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.events.PublishSessionEvent(pubCtx, ev); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to publish session event")
	}
}

func (s *TestSessionService) audit(ctx context.Context, sess *model.TestSession) {
	ev := model.FocusEvent{
		SessionID:   sess.ID,
		CandidateID: sess.CandidateID,
		Count:       sess.FocusLostCount,
		Terminated:  sess.Status == model.SessionStatusTerminated,
		RecordedAt:  s.now(),
	}
	qCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.events.EnqueueFocusEvent(qCtx, ev); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to queue focus event")
	}
}

func (s *TestSessionService) reject(op string, err error) {
	var (
		conflictErr   *StatusConflictError
		validationErr *ValidationError
		cause         = "error"
	)
	switch {
	case errors.Is(err, ErrAlreadyFinished):
		cause = "finished"
	case errors.Is(err, ErrActiveSessionExists):
		cause = "active_exists"
	case errors.As(err, &conflictErr):
		cause = "conflict"
	case errors.As(err, &validationErr):
		cause = "validation"
	case errors.Is(err, ErrSessionNotFound):
		cause = "not_found"
	case errors.Is(err, ErrForbidden):
		cause = "forbidden"
	case errors.Is(err, ErrSessionBusy):
		cause = "busy"
	}
	s.metrics.Rejections.WithLabelValues(op, cause).Inc()
	s.log.Debug().Err(err).Str("op", op).Str("cause", cause).Msg("Session event rejected")
}

func overdue(sess *model.TestSession, now time.Time) bool {
	if sess.Status != model.SessionStatusInProgress {
		return false
	}
	deadline, ok := sess.Deadline()
	return ok && !now.Before(deadline)
}

func expire(sess *model.TestSession, now time.Time) *transition {
	reason := model.TerminationTimeExpired
	sess.Status = model.SessionStatusCompleted
	sess.CompletedAt = &now
	sess.RemainingTime = 0
	sess.TerminationReason = &reason
	return &transition{event: EventSessionCompleted, to: model.SessionStatusCompleted, reason: string(reason)}
}

// deadlineError is what an operation sees when the server deadline check
// expired the session first. Time reports and completion requests succeed.
func deadlineError(op string, sess *model.TestSession) error {
	switch op {
	case opReportTime, opComplete, opExpire:
		return nil
	case opFocusLost:
		return finished(op, sess)
	default:
		return conflict(op, sess)
	}
}

func finished(op string, sess *model.TestSession) *StatusConflictError {
	return &StatusConflictError{Op: op, SessionID: sess.ID, Current: sess.Status, cause: ErrAlreadyFinished}
}

func activeConflict(active *model.TestSession) *StatusConflictError {
	return &StatusConflictError{Op: opCreate, SessionID: active.ID, Current: active.Status, cause: ErrActiveSessionExists}
}
