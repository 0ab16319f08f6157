package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/grading"
	"github.com/stemsi/intervu-backend/internal/handler"
	"github.com/stemsi/intervu-backend/internal/lock"
	"github.com/stemsi/intervu-backend/internal/metrics"
	"github.com/stemsi/intervu-backend/internal/middleware"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
	"github.com/stemsi/intervu-backend/internal/response"
	"github.com/stemsi/intervu-backend/internal/service"
	"github.com/stemsi/intervu-backend/internal/validator"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── In-memory stores ───────────────────────────────────────────────────────

type memSessions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.TestSession
}

func (m *memSessions) copyOf(s model.TestSession) *model.TestSession {
	s.Answers = append([]model.Answer{}, s.Answers...)
	s.Questions = append([]model.Question(nil), s.Questions...)
	return &s
}

func (m *memSessions) Create(_ context.Context, s *model.TestSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.CandidateID == s.CandidateID && r.Status.IsActive() {
			return repository.ErrActiveSessionExists
		}
	}
	s.Version = 0
	m.rows[s.ID] = *m.copyOf(*s)
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id uuid.UUID) (*model.TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.copyOf(r), nil
}

func (m *memSessions) GetActiveByCandidate(_ context.Context, candidateID int) (*model.TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.CandidateID == candidateID && r.Status.IsActive() {
			return m.copyOf(r), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSessions) Update(_ context.Context, s *model.TestSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[s.ID]
	if !ok || r.Version != s.Version {
		return repository.ErrVersionConflict
	}
	s.Version++
	m.rows[s.ID] = *m.copyOf(*s)
	return nil
}

func (m *memSessions) ListOverdue(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}

func (m *memSessions) CountByStatus(context.Context) (map[model.SessionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[model.SessionStatus]int{}
	for _, r := range m.rows {
		counts[r.Status]++
	}
	return counts, nil
}

func (m *memSessions) ListInProgress(context.Context) ([]model.TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TestSession
	for _, r := range m.rows {
		if r.Status == model.SessionStatusInProgress {
			out = append(out, *m.copyOf(r))
		}
	}
	return out, nil
}

type memEvaluations struct {
	mu   sync.Mutex
	rows []model.Evaluation
}

func (m *memEvaluations) CreateIfAbsent(_ context.Context, e *model.Evaluation) (*model.Evaluation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].TestSessionID == e.TestSessionID {
			existing := m.rows[i]
			return &existing, false, nil
		}
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.rows = append(m.rows, *e)
	return e, true, nil
}

func (m *memEvaluations) GetBySession(_ context.Context, sessionID uuid.UUID) (*model.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TestSessionID == sessionID {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memEvaluations) List(_ context.Context, candidateID, limit, offset int) ([]model.Evaluation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.Evaluation
	for _, r := range m.rows {
		if candidateID == 0 || r.CandidateID == candidateID {
			all = append(all, r)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

type memBank struct {
	mu        sync.Mutex
	questions []model.Question
}

func (b *memBank) ListPool(_ context.Context, field, level string, qType model.QuestionType, format model.QuestionFormat) ([]model.Question, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Question
	for _, q := range b.questions {
		if q.Field == field && q.Level == level && q.Type == qType && q.Format == format {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *memBank) List(_ context.Context, f repository.QuestionFilter, limit, offset int) ([]model.Question, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var all []model.Question
	for _, q := range b.questions {
		if f.Field != "" && q.Field != f.Field {
			continue
		}
		if f.Level != "" && q.Level != f.Level {
			continue
		}
		all = append(all, q)
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

func (b *memBank) Create(_ context.Context, q *model.Question) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q.ID = uuid.New()
	q.CreatedAt = time.Now()
	b.questions = append(b.questions, *q)
	return nil
}

type memUsers struct {
	users []model.User
}

func (m *memUsers) GetByID(_ context.Context, id int) (*model.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

// ─── Harness ────────────────────────────────────────────────────────────────

const (
	candidateA = 7
	candidateB = 8
	adminID    = 1
)

type apiHarness struct {
	t        *testing.T
	router   *gin.Engine
	rdb      *redis.Client
	mr       *miniredis.Miniredis
	auth     *service.AuthService
	sessions *memSessions
	bank     *memBank
	tokens   map[int]string
	mcID     uuid.UUID
	essayID  uuid.UUID
}

type envelope struct {
	Data       json.RawMessage      `json:"data"`
	Error      *response.ErrorBody  `json:"error"`
	Pagination *response.Pagination `json:"pagination"`
}

func newAPIHarness(t *testing.T, mutate ...func(*config.Policy)) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	policy := config.DefaultPolicy()
	policy.Composition = config.ParseComposition("technical:multiple-choice=1,technical:essay=1")
	for _, fn := range mutate {
		fn(&policy)
	}
	cfg := &config.Config{
		GinMode:    gin.TestMode,
		JWTSecret:  "handler-test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: bcrypt.MinCost,
		Policy:     policy,
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("secret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	users := &memUsers{users: []model.User{
		{ID: adminID, Email: "admin@example.com", PasswordHash: string(hash), Role: model.RoleAdmin},
		{ID: candidateA, Email: "a@example.com", PasswordHash: string(hash), Role: model.RoleCandidate},
		{ID: candidateB, Email: "b@example.com", PasswordHash: string(hash), Role: model.RoleCandidate},
	}}

	correct := 1
	h := &apiHarness{
		t:        t,
		rdb:      rdb,
		mr:       mr,
		sessions: &memSessions{rows: map[uuid.UUID]model.TestSession{}},
		mcID:     uuid.New(),
		essayID:  uuid.New(),
		tokens:   map[int]string{},
	}
	h.bank = &memBank{questions: []model.Question{
		{
			ID: h.mcID, Field: "backend", Level: "mid", Type: model.QuestionTypeTechnical,
			Format: model.QuestionFormatMultipleChoice, Difficulty: model.DifficultyMedium, Points: 10,
			Content: "Which keyword starts a goroutine?", Options: []string{"defer", "go", "chan"}, CorrectIndex: &correct,
		},
		{
			ID: h.essayID, Field: "backend", Level: "mid", Type: model.QuestionTypeTechnical,
			Format: model.QuestionFormatEssay, Difficulty: model.DifficultyMedium, Points: 10,
			Content: "Explain how goroutines communicate.", Keywords: []string{"channel", "goroutine"},
		},
	}}

	m := metrics.NewNop()
	log := zerolog.Nop()
	evals := &memEvaluations{}
	w := policy.Weights

	h.auth = service.NewAuthService(cfg, users, rdb)
	questionService := service.NewQuestionService(h.bank, policy, nil, log)
	evaluationService := service.NewEvaluationService(evals, h.sessions,
		grading.Weights{Technical: w.Technical, Personality: w.Personality, ProblemSolving: w.ProblemSolving}, m, log)
	sessionService := service.NewTestSessionService(
		h.sessions, questionService, evaluationService,
		lock.NewRedisLocker(rdb, policy.SessionLockTTL, policy.SessionLockWait),
		service.NewRedisEventBus(rdb), m, policy, log,
	)

	handlers := &Handlers{
		Auth:       handler.NewAuthHandler(h.auth, log),
		Session:    handler.NewSessionHandler(sessionService, h.auth, log),
		Evaluation: handler.NewEvaluationHandler(evaluationService, log),
		Question:   handler.NewQuestionHandler(questionService, log),
		WS:         handler.NewWSHandler(rdb, sessionService, log, nil),
		Monitor:    handler.NewMonitorHandler(rdb, service.NewMonitorService(h.sessions), log),
		System:     handler.NewSystemHandler(fakePinger{}, rdb, log),
	}
	h.router = SetupRouter(h.auth, handlers, cfg, middleware.NewRateLimiter(100, time.Minute), m.Handler())

	for _, id := range []int{adminID, candidateA, candidateB} {
		u, _ := users.GetByID(context.Background(), id)
		token, err := h.auth.GenerateToken(context.Background(), id, u.Role)
		require.NoError(t, err)
		h.tokens[id] = token
	}
	return h
}

func (h *apiHarness) do(method, path string, who int, body any) (int, envelope) {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token, ok := h.tokens[who]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

type sessionBody struct {
	Session model.SessionView `json:"session"`
}

// createSession starts a session for the candidate through the API.
func (h *apiHarness) createSession(who int) model.SessionView {
	h.t.Helper()
	code, env := h.do(http.MethodPost, "/api/v1/candidate/sessions", who, gin.H{"field": "backend", "level": "mid"})
	require.Equal(h.t, http.StatusCreated, code, env.Error)
	return decode[sessionBody](h.t, env.Data).Session
}
