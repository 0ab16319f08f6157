package model

import (
	"time"

	"github.com/google/uuid"
)

// FocusEvent is one audited focus-loss report.
type FocusEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	CandidateID int       `json:"candidate_id"`
	Count       int       `json:"count"`
	Terminated  bool      `json:"terminated"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// SessionEvent is published on every accepted transition or counter change.
type SessionEvent struct {
	Type           string        `json:"type"`
	SessionID      uuid.UUID     `json:"session_id"`
	CandidateID    int           `json:"candidate_id"`
	Status         SessionStatus `json:"status"`
	FocusLostCount int           `json:"focus_lost_count"`
	RemainingTime  int           `json:"remaining_time"`
	AnsweredCount  int           `json:"answered_count"`
	At             time.Time     `json:"at"`
}
