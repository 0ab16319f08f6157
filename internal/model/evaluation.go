package model

import (
	"time"

	"github.com/google/uuid"
)

// EvaluationStatus enumerates evaluation states. The engine only writes completed.
type EvaluationStatus string

const (
	EvaluationStatusPending   EvaluationStatus = "pending"
	EvaluationStatusCompleted EvaluationStatus = "completed"
)

// Evaluation is the graded outcome of one terminal session.
type Evaluation struct {
	ID                  uuid.UUID        `json:"id"`
	CandidateID         int              `json:"candidate_id"`
	TestSessionID       uuid.UUID        `json:"test_session_id"`
	TechnicalScore      float64          `json:"technical_score"`
	PersonalityScore    float64          `json:"personality_score"`
	ProblemSolvingScore float64          `json:"problem_solving_score"`
	TotalScore          float64          `json:"total_score"`
	DetailedResults     []QuestionResult `json:"detailed_results"`
	Status              EvaluationStatus `json:"status"`
	CreatedAt           time.Time        `json:"created_at"`
}

// QuestionResult is the per-question grading breakdown.
type QuestionResult struct {
	QuestionID    uuid.UUID      `json:"question_id"`
	Type          QuestionType   `json:"type"`
	Format        QuestionFormat `json:"format"`
	UserAnswer    *AnswerValue   `json:"user_answer"`
	CorrectAnswer CorrectAnswer  `json:"correct_answer"`
	Score         int            `json:"score"`
	MaxScore      int            `json:"max_score"`
}

// CorrectAnswer is the answer key of a question: an index or a keyword list.
type CorrectAnswer struct {
	Index    *int     `json:"index,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// EvaluationSummary is the short form returned alongside a terminal transition.
type EvaluationSummary struct {
	ID                  uuid.UUID `json:"id"`
	TechnicalScore      float64   `json:"technical_score"`
	PersonalityScore    float64   `json:"personality_score"`
	ProblemSolvingScore float64   `json:"problem_solving_score"`
	TotalScore          float64   `json:"total_score"`
}

// Summary returns the score-only projection.
func (e *Evaluation) Summary() *EvaluationSummary {
	if e == nil {
		return nil
	}
	return &EvaluationSummary{
		ID:                  e.ID,
		TechnicalScore:      e.TechnicalScore,
		PersonalityScore:    e.PersonalityScore,
		ProblemSolvingScore: e.ProblemSolvingScore,
		TotalScore:          e.TotalScore,
	}
}
