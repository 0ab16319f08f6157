package websocket

import "github.com/stemsi/intervu-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer    Action = "answer"
	ActionFocusLost Action = "focus_lost"
	ActionTime      Action = "time"
	ActionComplete  Action = "complete"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest saves or replaces one answer.
type AnswerRequest struct {
	Action     Action             `json:"action"`
	QuestionID string             `json:"question_id"`
	Value      *model.AnswerValue `json:"value"`
}

// TimeRequest reports the client's remaining time in seconds.
type TimeRequest struct {
	Action           Action   `json:"action"`
	RemainingSeconds *float64 `json:"remaining_seconds"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventReady      Event = "ready"
	EventAck        Event = "ack"
	EventWarning    Event = "warning"
	EventTerminated Event = "terminated"
	EventCompleted  Event = "completed"
	EventSession    Event = "session"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// ReadyResponse is sent once after the upgrade with the candidate's view.
type ReadyResponse struct {
	Event   Event             `json:"event"`
	Session model.SessionView `json:"session"`
}

// AckResponse confirms an accepted answer or time report.
type AckResponse struct {
	Event         Event  `json:"event"`
	Action        Action `json:"action"`
	AnsweredCount int    `json:"answered_count,omitempty"`
	RemainingTime int    `json:"remaining_time"`
}

// ResultResponse carries the outcome of a focus, time or completion action.
type ResultResponse struct {
	Event  Event       `json:"event"`
	Action Action      `json:"action"`
	Result interface{} `json:"result"`
}

// SessionEventResponse forwards a transition published by any node.
type SessionEventResponse struct {
	Event   Event              `json:"event"`
	Payload model.SessionEvent `json:"payload"`
}

type ErrorResponse struct {
	Event         Event  `json:"event"`
	Code          string `json:"code"`
	Error         string `json:"error"`
	CurrentStatus string `json:"current_status,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
