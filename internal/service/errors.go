package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/intervu-backend/internal/model"
)

// Session engine errors.
var (
	ErrSessionNotFound       = errors.New("test session not found")
	ErrEvaluationNotFound    = errors.New("evaluation not found")
	ErrActiveSessionExists   = errors.New("candidate already has an active session")
	ErrAlreadyFinished       = errors.New("test session already finished")
	ErrForbidden             = errors.New("session belongs to another candidate")
	ErrSessionBusy           = errors.New("session is being modified, retry shortly")
	ErrInsufficientQuestions = errors.New("question bank cannot fill the requested test")
)

// StatusConflictError is returned when an operation is illegal for the
// session's current status.
type StatusConflictError struct {
	Op        string
	SessionID uuid.UUID
	Current   model.SessionStatus
	cause     error
}

func (e *StatusConflictError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("cannot %s: %v (status %s)", e.Op, e.cause, e.Current)
	}
	return fmt.Sprintf("cannot %s: session is %s", e.Op, e.Current)
}

func (e *StatusConflictError) Unwrap() error { return e.cause }

func conflict(op string, s *model.TestSession) *StatusConflictError {
	return &StatusConflictError{Op: op, SessionID: s.ID, Current: s.Status}
}

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
