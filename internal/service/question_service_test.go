package service

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBank struct {
	questions []model.Question
	created   []model.Question
}

func (b *memBank) ListPool(_ context.Context, field, level string, qType model.QuestionType, format model.QuestionFormat) ([]model.Question, error) {
	var out []model.Question
	for _, q := range b.questions {
		if q.Field == field && q.Level == level && q.Type == qType && q.Format == format {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *memBank) List(_ context.Context, _ repository.QuestionFilter, limit, offset int) ([]model.Question, int, error) {
	total := len(b.questions)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return b.questions[offset:end], total, nil
}

func (b *memBank) Create(_ context.Context, q *model.Question) error {
	q.ID = uuid.New()
	b.created = append(b.created, *q)
	return nil
}

func bankOf(qType model.QuestionType, format model.QuestionFormat, easy, medium, hard int) []model.Question {
	var out []model.Question
	add := func(d model.Difficulty, n int) {
		for i := 0; i < n; i++ {
			out = append(out, model.Question{
				ID: uuid.New(), Field: "backend", Level: "junior",
				Type: qType, Format: format, Difficulty: d, Points: 5,
			})
		}
	}
	add(model.DifficultyEasy, easy)
	add(model.DifficultyMedium, medium)
	add(model.DifficultyHard, hard)
	return out
}

func singleBucketPolicy(count int) config.Policy {
	p := config.DefaultPolicy()
	p.Composition = []config.CompositionBucket{{Category: "technical", Format: "multiple-choice", Count: count}}
	return p
}

func countDifficulties(qs []model.Question) map[model.Difficulty]int {
	m := map[model.Difficulty]int{}
	for _, q := range qs {
		m[q.Difficulty]++
	}
	return m
}

func TestSnapshotFollowsDifficultyMix(t *testing.T) {
	bank := &memBank{questions: bankOf(model.QuestionTypeTechnical, model.QuestionFormatMultipleChoice, 6, 8, 6)}
	svc := NewQuestionService(bank, singleBucketPolicy(10), rand.New(rand.NewPCG(1, 2)), zerolog.Nop())

	snap, err := svc.Snapshot(context.Background(), "backend", "junior")
	require.NoError(t, err)
	require.Len(t, snap, 10)

	counts := countDifficulties(snap)
	assert.Equal(t, 3, counts[model.DifficultyEasy])
	assert.Equal(t, 5, counts[model.DifficultyMedium])
	assert.Equal(t, 2, counts[model.DifficultyHard])

	seen := map[uuid.UUID]bool{}
	for i, q := range snap {
		assert.Equal(t, i, q.Order)
		assert.False(t, seen[q.ID], "duplicate question in snapshot")
		seen[q.ID] = true
		if i > 0 {
			assert.LessOrEqual(t, difficultyRank[snap[i-1].Difficulty], difficultyRank[q.Difficulty])
		}
	}
}

func TestSnapshotFillsShortDifficultyFromRest(t *testing.T) {
	bank := &memBank{questions: bankOf(model.QuestionTypeTechnical, model.QuestionFormatMultipleChoice, 10, 0, 0)}
	svc := NewQuestionService(bank, singleBucketPolicy(10), rand.New(rand.NewPCG(3, 4)), zerolog.Nop())

	snap, err := svc.Snapshot(context.Background(), "backend", "junior")
	require.NoError(t, err)
	assert.Len(t, snap, 10)
	assert.Equal(t, 10, countDifficulties(snap)[model.DifficultyEasy])
}

func TestSnapshotInsufficientBank(t *testing.T) {
	bank := &memBank{questions: bankOf(model.QuestionTypeTechnical, model.QuestionFormatMultipleChoice, 2, 2, 2)}
	svc := NewQuestionService(bank, singleBucketPolicy(10), nil, zerolog.Nop())

	_, err := svc.Snapshot(context.Background(), "backend", "junior")
	assert.ErrorIs(t, err, ErrInsufficientQuestions)

	_, err = svc.Snapshot(context.Background(), "frontend", "junior")
	assert.ErrorIs(t, err, ErrInsufficientQuestions)
}

func TestSnapshotIsDeterministicForSeed(t *testing.T) {
	bank := &memBank{questions: bankOf(model.QuestionTypeTechnical, model.QuestionFormatMultipleChoice, 6, 8, 6)}

	a, err := NewQuestionService(bank, singleBucketPolicy(10), rand.New(rand.NewPCG(9, 9)), zerolog.Nop()).
		Snapshot(context.Background(), "backend", "junior")
	require.NoError(t, err)
	b, err := NewQuestionService(bank, singleBucketPolicy(10), rand.New(rand.NewPCG(9, 9)), zerolog.Nop()).
		Snapshot(context.Background(), "backend", "junior")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestSnapshotDefaultComposition(t *testing.T) {
	var pool []model.Question
	pool = append(pool, bankOf(model.QuestionTypeTechnical, model.QuestionFormatMultipleChoice, 5, 5, 5)...)
	pool = append(pool, bankOf(model.QuestionTypeTechnical, model.QuestionFormatEssay, 2, 2, 2)...)
	pool = append(pool, bankOf(model.QuestionTypePersonality, model.QuestionFormatMultipleChoice, 3, 3, 3)...)
	pool = append(pool, bankOf(model.QuestionTypeProblemSolving, model.QuestionFormatMultipleChoice, 2, 2, 2)...)
	pool = append(pool, bankOf(model.QuestionTypeProblemSolving, model.QuestionFormatEssay, 1, 1, 1)...)
	svc := NewQuestionService(&memBank{questions: pool}, config.DefaultPolicy(), nil, zerolog.Nop())

	snap, err := svc.Snapshot(context.Background(), "backend", "junior")
	require.NoError(t, err)
	require.Len(t, snap, 22)
	assert.Equal(t, model.QuestionTypeTechnical, snap[0].Type)
	assert.Equal(t, model.QuestionFormatEssay, snap[10].Format)
	assert.Equal(t, model.QuestionTypePersonality, snap[12].Type)
	assert.Equal(t, model.QuestionTypeProblemSolving, snap[21].Type)
}

func TestCreateQuestionValidatesAnswerKey(t *testing.T) {
	bank := &memBank{}
	svc := NewQuestionService(bank, config.DefaultPolicy(), nil, zerolog.Nop())
	idx := 3

	_, err := svc.CreateQuestion(context.Background(), model.CreateQuestionRequest{
		Field: "backend", Level: "junior", Type: "technical", Format: "multiple-choice",
		Difficulty: "easy", Points: 5, Content: "?", Options: []string{"a", "b"}, CorrectIndex: &idx,
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "correct_index", vErr.Field)

	_, err = svc.CreateQuestion(context.Background(), model.CreateQuestionRequest{
		Field: "backend", Level: "junior", Type: "technical", Format: "essay",
		Difficulty: "easy", Points: 5, Content: "?",
	})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "keywords", vErr.Field)

	idx = 1
	q, err := svc.CreateQuestion(context.Background(), model.CreateQuestionRequest{
		Field: " backend ", Level: "junior", Type: "technical", Format: "multiple-choice",
		Difficulty: "hard", Points: 5, Content: "?", Options: []string{"a", "b"}, CorrectIndex: &idx,
		Keywords: []string{"ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, "backend", q.Field)
	assert.Nil(t, q.Keywords)
	assert.Len(t, bank.created, 1)
}

func TestListQuestionsNormalizesPage(t *testing.T) {
	bank := &memBank{questions: bankOf(model.QuestionTypeTechnical, model.QuestionFormatMultipleChoice, 3, 0, 0)}
	svc := NewQuestionService(bank, config.DefaultPolicy(), nil, zerolog.Nop())

	qs, page, err := svc.ListQuestions(context.Background(), repository.QuestionFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, qs, 3)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.PerPage)
	assert.Equal(t, 1, page.TotalPages)
}
