package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/intervu-backend/internal/model"
	"golang.org/x/sync/errgroup"
)

// MonitorService builds the admin live-monitor snapshot.
type MonitorService struct {
	sessions SessionStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(sessions SessionStore) *MonitorService {
	return &MonitorService{sessions: sessions}
}

// LiveSession is one in-progress session as shown on the monitor.
type LiveSession struct {
	SessionID      uuid.UUID  `json:"session_id"`
	CandidateID    int        `json:"candidate_id"`
	Field          string     `json:"field"`
	Level          string     `json:"level"`
	FocusLostCount int        `json:"focus_lost_count"`
	AnsweredCount  int        `json:"answered_count"`
	QuestionCount  int        `json:"question_count"`
	RemainingTime  int        `json:"remaining_time"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
}

// MonitorSnapshot is the initial state pushed to a monitor subscriber.
type MonitorSnapshot struct {
	Counts     map[model.SessionStatus]int `json:"counts"`
	InProgress []LiveSession               `json:"in_progress"`
	TakenAt    time.Time                   `json:"taken_at"`
}

// Snapshot fetches status counts and live sessions concurrently.
func (s *MonitorService) Snapshot(ctx context.Context) (*MonitorSnapshot, error) {
	var (
		counts   map[model.SessionStatus]int
		sessions []model.TestSession
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.sessions.CountByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		sessions, err = s.sessions.ListInProgress(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &MonitorSnapshot{
		Counts:     counts,
		InProgress: make([]LiveSession, 0, len(sessions)),
		TakenAt:    time.Now(),
	}
	if snap.Counts == nil {
		snap.Counts = map[model.SessionStatus]int{}
	}
	for _, sess := range sessions {
		snap.InProgress = append(snap.InProgress, LiveSession{
			SessionID:      sess.ID,
			CandidateID:    sess.CandidateID,
			Field:          sess.Field,
			Level:          sess.Level,
			FocusLostCount: sess.FocusLostCount,
			AnsweredCount:  len(sess.Answers),
			QuestionCount:  len(sess.Questions),
			RemainingTime:  sess.RemainingTime,
			StartedAt:      sess.StartedAt,
		})
	}
	return snap, nil
}
