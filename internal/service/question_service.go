package service

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
	"github.com/stemsi/intervu-backend/internal/response"
)

// QuestionService draws question snapshots from the bank and manages bank entries.
type QuestionService struct {
	bank   QuestionBank
	policy config.Policy
	log    zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewQuestionService creates a new QuestionService. rng drives question
// selection; pass a seeded source in tests.
func NewQuestionService(bank QuestionBank, policy config.Policy, rng *rand.Rand, log zerolog.Logger) *QuestionService {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &QuestionService{
		bank:   bank,
		policy: policy,
		rng:    rng,
		log:    log.With().Str("component", "question_service").Logger(),
	}
}

var difficultyRank = map[model.Difficulty]int{
	model.DifficultyEasy:   0,
	model.DifficultyMedium: 1,
	model.DifficultyHard:   2,
}

// Snapshot assembles the ordered question set for a new session.
func (s *QuestionService) Snapshot(ctx context.Context, field, level string) ([]model.Question, error) {
	var snapshot []model.Question

	for _, b := range s.policy.Composition {
		if b.Count <= 0 {
			continue
		}
		pool, err := s.bank.ListPool(ctx, field, level, model.QuestionType(b.Category), model.QuestionFormat(b.Format))
		if err != nil {
			return nil, fmt.Errorf("list pool %s/%s: %w", b.Category, b.Format, err)
		}
		if len(pool) < b.Count {
			return nil, fmt.Errorf("%w: %s %s needs %d, bank has %d",
				ErrInsufficientQuestions, b.Category, b.Format, b.Count, len(pool))
		}
		snapshot = append(snapshot, s.pick(pool, b.Count)...)
	}

	if len(snapshot) == 0 {
		return nil, fmt.Errorf("%w: empty composition", ErrInsufficientQuestions)
	}
	for i := range snapshot {
		snapshot[i].Order = i
	}

	s.log.Debug().Str("field", field).Str("level", level).Int("questions", len(snapshot)).Msg("Snapshot assembled")
	return snapshot, nil
}

// pick draws n questions from pool following the difficulty mix. A short
// difficulty is topped up from whatever is left in the pool.
func (s *QuestionService) pick(pool []model.Question, n int) []model.Question {
	easy, medium := s.mixCounts(n)
	want := map[model.Difficulty]int{
		model.DifficultyEasy:   easy,
		model.DifficultyMedium: medium,
		model.DifficultyHard:   n - easy - medium,
	}

	s.mu.Lock()
	shuffled := make([]model.Question, len(pool))
	copy(shuffled, pool)
	s.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	s.mu.Unlock()

	picked := make([]model.Question, 0, n)
	var rest []model.Question
	for _, q := range shuffled {
		if want[q.Difficulty] > 0 {
			want[q.Difficulty]--
			picked = append(picked, q)
			continue
		}
		rest = append(rest, q)
	}
	for _, q := range rest {
		if len(picked) == n {
			break
		}
		picked = append(picked, q)
	}

	sort.SliceStable(picked, func(i, j int) bool {
		return difficultyRank[picked[i].Difficulty] < difficultyRank[picked[j].Difficulty]
	})
	return picked
}

func (s *QuestionService) mixCounts(n int) (easy, medium int) {
	easy = int(math.Round(s.policy.Mix.Easy * float64(n)))
	medium = int(math.Round(s.policy.Mix.Medium * float64(n)))
	if easy > n {
		easy = n
	}
	if easy+medium > n {
		medium = n - easy
	}
	return easy, medium
}

// CreateQuestion adds a question to the bank.
func (s *QuestionService) CreateQuestion(ctx context.Context, req model.CreateQuestionRequest) (*model.Question, error) {
	q, err := BuildQuestion(req)
	if err != nil {
		return nil, err
	}
	if err := s.bank.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// BuildQuestion turns a create request into a bank row, checking the
// answer key against the format.
func BuildQuestion(req model.CreateQuestionRequest) (*model.Question, error) {
	q := &model.Question{
		Field:      strings.TrimSpace(req.Field),
		Level:      req.Level,
		Type:       model.QuestionType(req.Type),
		Format:     model.QuestionFormat(req.Format),
		Difficulty: model.Difficulty(req.Difficulty),
		Points:     req.Points,
		Content:    req.Content,
		Keywords:   req.Keywords,
	}

	switch q.Format {
	case model.QuestionFormatMultipleChoice:
		if req.CorrectIndex == nil || *req.CorrectIndex < 0 || *req.CorrectIndex >= len(req.Options) {
			return nil, invalid("correct_index", "must point at one of the options")
		}
		q.Options = req.Options
		q.CorrectIndex = req.CorrectIndex
		q.Keywords = nil
	case model.QuestionFormatEssay:
		if len(req.Keywords) == 0 {
			return nil, invalid("keywords", "essay questions need at least one keyword")
		}
	}
	return q, nil
}

// ListQuestions returns a page of the bank.
func (s *QuestionService) ListQuestions(ctx context.Context, f repository.QuestionFilter, page, perPage int) ([]model.Question, *response.Pagination, error) {
	page, perPage = normalizePage(page, perPage)

	questions, total, err := s.bank.List(ctx, f, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if questions == nil {
		questions = []model.Question{}
	}
	return questions, paginate(page, perPage, total), nil
}
