package service

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/intervu-backend/internal/model"
)

// normalizeAnswer checks value against the snapshot question and returns the
// value to store. Essay text is trimmed.
func normalizeAnswer(questions []model.Question, questionID uuid.UUID, value model.AnswerValue) (model.AnswerValue, error) {
	q, ok := findQuestion(questions, questionID)
	if !ok {
		return model.AnswerValue{}, invalid("question_id", "question is not part of this session")
	}

	switch {
	case value.IsIndex():
		if q.Format != model.QuestionFormatMultipleChoice {
			return model.AnswerValue{}, invalid("value", "essay questions take a text answer")
		}
		if *value.Index < 0 || *value.Index >= len(q.Options) {
			return model.AnswerValue{}, invalid("value", "option index out of range")
		}
		return value, nil

	case value.IsText():
		if q.Format != model.QuestionFormatEssay {
			return model.AnswerValue{}, invalid("value", "multiple-choice questions take an option index")
		}
		text := strings.TrimSpace(*value.Text)
		if text == "" {
			return model.AnswerValue{}, invalid("value", "answer text must not be empty")
		}
		return model.TextAnswer(text), nil

	default:
		return model.AnswerValue{}, invalid("value", "must be an integer index or text")
	}
}

// upsertAnswer replaces the entry for questionID or appends one, then keeps
// the ledger in snapshot order.
func upsertAnswer(answers []model.Answer, questions []model.Question, questionID uuid.UUID, value model.AnswerValue, at time.Time) []model.Answer {
	entry := model.Answer{QuestionID: questionID, SubmittedAt: at, Value: value}

	replaced := false
	for i := range answers {
		if answers[i].QuestionID == questionID {
			answers[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		answers = append(answers, entry)
	}

	pos := make(map[uuid.UUID]int, len(questions))
	for i, q := range questions {
		pos[q.ID] = i
	}
	sort.SliceStable(answers, func(i, j int) bool {
		return pos[answers[i].QuestionID] < pos[answers[j].QuestionID]
	})
	return answers
}

func findQuestion(questions []model.Question, id uuid.UUID) (model.Question, bool) {
	for _, q := range questions {
		if q.ID == id {
			return q, true
		}
	}
	return model.Question{}, false
}
