package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType is the scoring category a question contributes to.
type QuestionType string

const (
	QuestionTypeTechnical      QuestionType = "technical"
	QuestionTypePersonality    QuestionType = "personality"
	QuestionTypeProblemSolving QuestionType = "problem-solving"
)

// QuestionFormat is how a question is answered.
type QuestionFormat string

const (
	QuestionFormatMultipleChoice QuestionFormat = "multiple-choice"
	QuestionFormatEssay          QuestionFormat = "essay"
)

// Difficulty of a question bank entry.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Question is an immutable question record as supplied by the question bank.
// Inside a session snapshot, Order is its zero-based position.
type Question struct {
	ID           uuid.UUID      `json:"id"`
	Field        string         `json:"field"`
	Level        string         `json:"level"`
	Type         QuestionType   `json:"type"`
	Format       QuestionFormat `json:"format"`
	Difficulty   Difficulty     `json:"difficulty"`
	Points       int            `json:"points"`
	Content      string         `json:"content"`
	Options      []string       `json:"options,omitempty"`
	CorrectIndex *int           `json:"correct_index,omitempty"`
	Keywords     []string       `json:"keywords,omitempty"`
	Order        int            `json:"order"`
	CreatedAt    time.Time      `json:"created_at"`
}

// QuestionView is a question as shown to a candidate: no answer key.
type QuestionView struct {
	ID         uuid.UUID      `json:"id"`
	Type       QuestionType   `json:"type"`
	Format     QuestionFormat `json:"format"`
	Difficulty Difficulty     `json:"difficulty"`
	Points     int            `json:"points"`
	Content    string         `json:"content"`
	Options    []string       `json:"options,omitempty"`
	Order      int            `json:"order"`
}

// View strips the correct answer and keywords.
func (q Question) View() QuestionView {
	return QuestionView{
		ID:         q.ID,
		Type:       q.Type,
		Format:     q.Format,
		Difficulty: q.Difficulty,
		Points:     q.Points,
		Content:    q.Content,
		Options:    q.Options,
		Order:      q.Order,
	}
}

// CreateQuestionRequest is the payload for adding a question to the bank.
type CreateQuestionRequest struct {
	Field        string   `json:"field" binding:"required,min=2,max=64"`
	Level        string   `json:"level" binding:"required,experience_level"`
	Type         string   `json:"type" binding:"required,oneof=technical personality problem-solving"`
	Format       string   `json:"format" binding:"required,oneof=multiple-choice essay"`
	Difficulty   string   `json:"difficulty" binding:"required,oneof=easy medium hard"`
	Points       int      `json:"points" binding:"required,min=1,max=100"`
	Content      string   `json:"content" binding:"required,min=1,max=4000"`
	Options      []string `json:"options" binding:"required_if=Format multiple-choice,omitempty,min=2,max=10,dive,required,max=500"`
	CorrectIndex *int     `json:"correct_index" binding:"required_if=Format multiple-choice,omitempty,min=0"`
	Keywords     []string `json:"keywords" binding:"omitempty,max=50,dive,required,max=100"`
}
