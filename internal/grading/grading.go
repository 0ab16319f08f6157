// Package grading computes session scores from a question snapshot and an
// answer ledger. It performs no I/O; the same input always yields the same
// Result.
package grading

import (
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/intervu-backend/internal/model"
)

// Weights are the category weights of the total score.
type Weights struct {
	Technical      float64
	Personality    float64
	ProblemSolving float64
}

// DefaultWeights is the 40/20/40 split used at session completion.
var DefaultWeights = Weights{Technical: 0.4, Personality: 0.2, ProblemSolving: 0.4}

// Result is the outcome of grading one session.
type Result struct {
	TechnicalPercent      float64
	PersonalityPercent    float64
	ProblemSolvingPercent float64
	TotalScore            float64
	Details               []model.QuestionResult
}

type tally struct {
	score int
	max   int
}

// Grade scores every question in the snapshot against the ledger.
// Unanswered questions score zero and still count toward the maximum.
func Grade(questions []model.Question, answers []model.Answer, w Weights) Result {
	byQuestion := make(map[uuid.UUID]model.AnswerValue, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a.Value
	}

	tallies := make(map[model.QuestionType]*tally, 3)
	details := make([]model.QuestionResult, 0, len(questions))

	for _, q := range questions {
		var userAnswer *model.AnswerValue
		if v, ok := byQuestion[q.ID]; ok {
			v := v
			userAnswer = &v
		}

		score := ScoreQuestion(q, userAnswer)

		t, ok := tallies[q.Type]
		if !ok {
			t = &tally{}
			tallies[q.Type] = t
		}
		t.score += score
		t.max += q.Points

		details = append(details, model.QuestionResult{
			QuestionID:    q.ID,
			Type:          q.Type,
			Format:        q.Format,
			UserAnswer:    userAnswer,
			CorrectAnswer: correctAnswer(q),
			Score:         score,
			MaxScore:      q.Points,
		})
	}

	technical := percent(tallies[model.QuestionTypeTechnical])
	personality := percent(tallies[model.QuestionTypePersonality])
	problemSolving := percent(tallies[model.QuestionTypeProblemSolving])

	// Weight the unrounded percents; only stored values are rounded.
	return Result{
		TechnicalPercent:      round2(technical),
		PersonalityPercent:    round2(personality),
		ProblemSolvingPercent: round2(problemSolving),
		TotalScore: round2(w.Technical*technical +
			w.Personality*personality +
			w.ProblemSolving*problemSolving),
		Details: details,
	}
}

// ScoreQuestion returns the points earned for one question. A nil answer scores 0.
func ScoreQuestion(q model.Question, answer *model.AnswerValue) int {
	if answer == nil {
		return 0
	}

	switch q.Format {
	case model.QuestionFormatMultipleChoice:
		if q.CorrectIndex != nil && answer.IsIndex() && *answer.Index == *q.CorrectIndex {
			return q.Points
		}
		return 0
	case model.QuestionFormatEssay:
		if !answer.IsText() {
			return 0
		}
		return keywordScore(q.Points, q.Keywords, *answer.Text)
	default:
		return 0
	}
}

// keywordScore awards round(points * matched / total) for case-insensitive
// substring matches. Blank keywords are ignored.
func keywordScore(points int, keywords []string, text string) int {
	haystack := strings.ToLower(strings.TrimSpace(text))
	if haystack == "" {
		return 0
	}

	total, matched := 0, 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		total++
		if strings.Contains(haystack, kw) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(points) * float64(matched) / float64(total)))
}

func correctAnswer(q model.Question) model.CorrectAnswer {
	if q.Format == model.QuestionFormatEssay {
		return model.CorrectAnswer{Keywords: q.Keywords}
	}
	return model.CorrectAnswer{Index: q.CorrectIndex}
}

// percent is 0 for a category without questions.
func percent(t *tally) float64 {
	if t == nil || t.max == 0 {
		return 0
	}
	return 100 * float64(t.score) / float64(t.max)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
