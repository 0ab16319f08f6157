package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/grading"
	"github.com/stemsi/intervu-backend/internal/lock"
	"github.com/stemsi/intervu-backend/internal/metrics"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
)

// ─── Session store ──────────────────────────────────────────────────────────

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.TestSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[uuid.UUID]model.TestSession)}
}

func cloneSession(s model.TestSession) model.TestSession {
	s.Questions = append([]model.Question(nil), s.Questions...)
	s.Answers = append([]model.Answer{}, s.Answers...)
	return s
}

func (m *memSessionStore) Create(_ context.Context, s *model.TestSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.CandidateID == s.CandidateID && existing.Status.IsActive() {
			return repository.ErrActiveSessionExists
		}
	}
	s.Version = 0
	s.CreatedAt = time.Now()
	m.sessions[s.ID] = cloneSession(*s)
	return nil
}

func (m *memSessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneSession(s)
	return &c, nil
}

func (m *memSessionStore) GetActiveByCandidate(_ context.Context, candidateID int) (*model.TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.CandidateID == candidateID && s.Status.IsActive() {
			c := cloneSession(s)
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSessionStore) Update(_ context.Context, s *model.TestSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[s.ID]
	if !ok || stored.Version != s.Version {
		return repository.ErrVersionConflict
	}
	s.Version++
	m.sessions[s.ID] = cloneSession(*s)
	return nil
}

func (m *memSessionStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, s := range m.sessions {
		if overdue(&s, now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memSessionStore) CountByStatus(_ context.Context) (map[model.SessionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[model.SessionStatus]int{}
	for _, s := range m.sessions {
		counts[s.Status]++
	}
	return counts, nil
}

func (m *memSessionStore) ListInProgress(_ context.Context) ([]model.TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TestSession
	for _, s := range m.sessions {
		if s.Status == model.SessionStatusInProgress {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

// put stores s as-is, bypassing the version check.
func (m *memSessionStore) put(s model.TestSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
}

// ─── Evaluation store ───────────────────────────────────────────────────────

type memEvaluationStore struct {
	mu      sync.Mutex
	evals   map[uuid.UUID]model.Evaluation
	creates int
	failErr error
}

func newMemEvaluationStore() *memEvaluationStore {
	return &memEvaluationStore{evals: make(map[uuid.UUID]model.Evaluation)}
}

func (m *memEvaluationStore) CreateIfAbsent(_ context.Context, e *model.Evaluation) (*model.Evaluation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, false, m.failErr
	}
	if existing, ok := m.evals[e.TestSessionID]; ok {
		return &existing, false, nil
	}
	m.creates++
	e.CreatedAt = time.Now()
	m.evals[e.TestSessionID] = *e
	return e, true, nil
}

func (m *memEvaluationStore) GetBySession(_ context.Context, sessionID uuid.UUID) (*model.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	e, ok := m.evals[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (m *memEvaluationStore) List(_ context.Context, candidateID, limit, offset int) ([]model.Evaluation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.Evaluation
	for _, e := range m.evals {
		if candidateID == 0 || e.CandidateID == candidateID {
			all = append(all, e)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memEvaluationStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.evals)
}

// ─── Publisher ──────────────────────────────────────────────────────────────

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.SessionEvent
	focus  []model.FocusEvent
}

func (p *recordingPublisher) PublishSessionEvent(_ context.Context, ev model.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) EnqueueFocusEvent(_ context.Context, ev model.FocusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focus = append(p.focus, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// ─── Snapshotter ────────────────────────────────────────────────────────────

type staticSnapshot struct {
	questions []model.Question
	err       error
}

func (s staticSnapshot) Snapshot(context.Context, string, string) ([]model.Question, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.Question(nil), s.questions...), nil
}

// ─── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	svc      *TestSessionService
	evals    *EvaluationService
	sessions *memSessionStore
	evalDB   *memEvaluationStore
	pub      *recordingPublisher
	metrics  *metrics.Metrics
	mr       *miniredis.Miniredis
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newHarness(t *testing.T, questions []model.Question, mutate ...func(*config.Policy)) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	policy := config.DefaultPolicy()
	for _, fn := range mutate {
		fn(&policy)
	}

	h := &harness{
		sessions: newMemSessionStore(),
		evalDB:   newMemEvaluationStore(),
		pub:      &recordingPublisher{},
		metrics:  metrics.NewNop(),
		mr:       mr,
		clock:    &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	w := policy.Weights
	h.evals = NewEvaluationService(h.evalDB, h.sessions,
		grading.Weights{Technical: w.Technical, Personality: w.Personality, ProblemSolving: w.ProblemSolving},
		h.metrics, zerolog.Nop())
	h.svc = NewTestSessionService(
		h.sessions,
		staticSnapshot{questions: questions},
		h.evals,
		lock.NewRedisLocker(rdb, policy.SessionLockTTL, policy.SessionLockWait),
		h.pub,
		h.metrics,
		policy,
		zerolog.Nop(),
	)
	h.svc.SetClock(h.clock.Now)
	return h
}

func candidate(id int) model.Caller { return model.Caller{UserID: id, Role: model.RoleCandidate} }

func admin() model.Caller { return model.Caller{UserID: 1, Role: model.RoleAdmin} }

func mcQuestion(qType model.QuestionType, points, correct int) model.Question {
	return model.Question{
		ID:           uuid.New(),
		Type:         qType,
		Format:       model.QuestionFormatMultipleChoice,
		Difficulty:   model.DifficultyEasy,
		Points:       points,
		Content:      "pick one",
		Options:      []string{"a", "b", "c", "d"},
		CorrectIndex: &correct,
	}
}

func essayQuestion(qType model.QuestionType, points int, keywords ...string) model.Question {
	return model.Question{
		ID:         uuid.New(),
		Type:       qType,
		Format:     model.QuestionFormatEssay,
		Difficulty: model.DifficultyMedium,
		Points:     points,
		Content:    "explain",
		Keywords:   keywords,
	}
}

var errStorage = errors.New("storage down")
