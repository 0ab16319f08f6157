package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates test session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not-started"
	SessionStatusInProgress SessionStatus = "in-progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusTerminated SessionStatus = "terminated"
)

// IsTerminal reports whether no further transition can leave this status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusTerminated
}

// IsActive reports whether the status counts toward the one-active-session rule.
func (s SessionStatus) IsActive() bool {
	return s == SessionStatusNotStarted || s == SessionStatusInProgress
}

// TerminationReason explains a forced terminal transition. Normal completion has none.
type TerminationReason string

const (
	TerminationCheating    TerminationReason = "cheating"
	TerminationTimeExpired TerminationReason = "time-expired"
)

// TestSession is one candidate's test attempt.
type TestSession struct {
	ID                uuid.UUID          `json:"id"`
	CandidateID       int                `json:"candidate_id"`
	Field             string             `json:"field"`
	Level             string             `json:"level"`
	Status            SessionStatus      `json:"status"`
	Questions         []Question         `json:"questions"`
	Answers           []Answer           `json:"answers"`
	RemainingTime     int                `json:"remaining_time"`
	TotalTime         int                `json:"total_time"`
	CheatingAttempts  int                `json:"cheating_attempts"`
	FocusLostCount    int                `json:"focus_lost_count"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	TerminatedAt      *time.Time         `json:"terminated_at,omitempty"`
	TerminationReason *TerminationReason `json:"termination_reason"`
	Version           int                `json:"-"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Deadline returns when the time budget runs out, or false if not started.
func (s *TestSession) Deadline() (time.Time, bool) {
	if s.StartedAt == nil {
		return time.Time{}, false
	}
	return s.StartedAt.Add(time.Duration(s.TotalTime) * time.Second), true
}

// SessionView is the role-dependent read model of a session.
// Candidates get Questions stripped of answer keys; admins get FullQuestions.
type SessionView struct {
	ID                uuid.UUID          `json:"id"`
	CandidateID       int                `json:"candidate_id"`
	Field             string             `json:"field"`
	Level             string             `json:"level"`
	Status            SessionStatus      `json:"status"`
	Questions         []QuestionView     `json:"questions,omitempty"`
	FullQuestions     []Question         `json:"full_questions,omitempty"`
	Answers           []Answer           `json:"answers"`
	RemainingTime     int                `json:"remaining_time"`
	TotalTime         int                `json:"total_time"`
	FocusLostCount    int                `json:"focus_lost_count"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	TerminatedAt      *time.Time         `json:"terminated_at,omitempty"`
	TerminationReason *TerminationReason `json:"termination_reason"`
}

// View builds the read model. full keeps the answer keys.
func (s *TestSession) View(full bool) SessionView {
	v := SessionView{
		ID:                s.ID,
		CandidateID:       s.CandidateID,
		Field:             s.Field,
		Level:             s.Level,
		Status:            s.Status,
		Answers:           s.Answers,
		RemainingTime:     s.RemainingTime,
		TotalTime:         s.TotalTime,
		FocusLostCount:    s.FocusLostCount,
		StartedAt:         s.StartedAt,
		CompletedAt:       s.CompletedAt,
		TerminatedAt:      s.TerminatedAt,
		TerminationReason: s.TerminationReason,
	}
	if v.Answers == nil {
		v.Answers = []Answer{}
	}
	if full {
		v.FullQuestions = s.Questions
		return v
	}
	v.Questions = make([]QuestionView, len(s.Questions))
	for i, q := range s.Questions {
		v.Questions[i] = q.View()
	}
	return v
}

// Answer is one ledger entry.
type Answer struct {
	QuestionID  uuid.UUID   `json:"question_id"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Value       AnswerValue `json:"value"`
}

// AnswerValue is either a zero-based option index or free text.
// On the wire it is a JSON number or a JSON string.
type AnswerValue struct {
	Index *int
	Text  *string
}

// IndexAnswer builds an option-index answer.
func IndexAnswer(i int) AnswerValue { return AnswerValue{Index: &i} }

// TextAnswer builds a free-text answer.
func TextAnswer(s string) AnswerValue { return AnswerValue{Text: &s} }

// IsIndex reports whether the value is an option index.
func (v AnswerValue) IsIndex() bool { return v.Index != nil && v.Text == nil }

// IsText reports whether the value is free text.
func (v AnswerValue) IsText() bool { return v.Text != nil && v.Index == nil }

var errAnswerValueType = errors.New("answer value must be an integer index or a string")

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Index != nil:
		return json.Marshal(*v.Index)
	case v.Text != nil:
		return json.Marshal(*v.Text)
	default:
		return []byte("null"), nil
	}
}

func (v *AnswerValue) UnmarshalJSON(b []byte) error {
	*v = AnswerValue{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v.Text = &s
		return nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
			return errAnswerValueType
		}
		i := int(f)
		v.Index = &i
		return nil
	default:
		return errAnswerValueType
	}
}

// CreateSessionRequest is the payload for a candidate starting a test.
type CreateSessionRequest struct {
	Field string `json:"field" binding:"required,min=2,max=64"`
	Level string `json:"level" binding:"required,experience_level"`
}

// AdminCreateSessionRequest schedules a not-started session for a candidate.
type AdminCreateSessionRequest struct {
	CandidateID int    `json:"candidate_id" binding:"required,min=1"`
	Field       string `json:"field" binding:"required,min=2,max=64"`
	Level       string `json:"level" binding:"required,experience_level"`
}

// SubmitAnswerRequest is the payload for saving one answer.
type SubmitAnswerRequest struct {
	QuestionID string       `json:"question_id" binding:"required,uuid"`
	Value      *AnswerValue `json:"value" binding:"required"`
}

// ReportTimeRequest carries the client's remaining-time report.
type ReportTimeRequest struct {
	RemainingSeconds *float64 `json:"remaining_seconds" binding:"required,min=0"`
}
