package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/middleware"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/response"
	"github.com/stemsi/intervu-backend/internal/service"
	"github.com/stemsi/intervu-backend/internal/validator"
)

// SessionHandler exposes the test session state machine over HTTP.
type SessionHandler struct {
	sessionService *service.TestSessionService
	authService    *service.AuthService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.TestSessionService, authService *service.AuthService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		authService:    authService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// CreateSession godoc
// POST /api/v1/candidate/sessions
// Snapshots questions and starts the candidate's session immediately.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessionService.CreateSession(c.Request.Context(), caller.UserID, req.Field, req.Level, true)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": sess.View(false)})
}

// AdminCreateSession godoc
// POST /api/v1/admin/sessions
// Schedules a not-started session for a candidate.
func (h *SessionHandler) AdminCreateSession(c *gin.Context) {
	var req model.AdminCreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if _, err := h.authService.LookupCandidate(c.Request.Context(), req.CandidateID); err != nil {
		failService(c, h.log, err)
		return
	}

	sess, err := h.sessionService.CreateSession(c.Request.Context(), req.CandidateID, req.Field, req.Level, false)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": sess.View(true)})
}

// GetActiveSession godoc
// GET /api/v1/candidate/sessions/active
func (h *SessionHandler) GetActiveSession(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.sessionService.GetActiveSession(c.Request.Context(), caller.UserID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// GetSession godoc
// GET /api/v1/candidate/sessions/:id
// GET /api/v1/admin/sessions/:id
// Candidates see their own sessions without answer keys.
func (h *SessionHandler) GetSession(c *gin.Context) {
	caller, id, ok := h.target(c)
	if !ok {
		return
	}

	view, err := h.sessionService.GetSession(c.Request.Context(), id, caller)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// StartSession godoc
// POST /api/v1/candidate/sessions/:id/start
func (h *SessionHandler) StartSession(c *gin.Context) {
	caller, id, ok := h.target(c)
	if !ok {
		return
	}

	sess, err := h.sessionService.StartSession(c.Request.Context(), id, caller)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess.View(caller.IsAdmin())})
}

// SubmitAnswer godoc
// POST /api/v1/candidate/sessions/:id/answers
// Saves or replaces the answer to one question.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	caller, id, ok := h.target(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"question_id": "must be a valid UUID"})
		return
	}

	sess, err := h.sessionService.SubmitAnswer(c.Request.Context(), id, caller, questionID, *req.Value)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	var saved *model.Answer
	for i := range sess.Answers {
		if sess.Answers[i].QuestionID == questionID {
			saved = &sess.Answers[i]
			break
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"answer":         saved,
		"answered_count": len(sess.Answers),
		"remaining_time": sess.RemainingTime,
	})
}

// ReportFocusLost godoc
// POST /api/v1/candidate/sessions/:id/focus-lost
// Counts a focus loss; the threshold-reaching report terminates the session.
func (h *SessionHandler) ReportFocusLost(c *gin.Context) {
	caller, id, ok := h.target(c)
	if !ok {
		return
	}

	report, err := h.sessionService.ReportFocusLost(c.Request.Context(), id, caller)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}

// ReportTime godoc
// POST /api/v1/candidate/sessions/:id/time
// Records the remaining time; zero completes the session as time-expired.
func (h *SessionHandler) ReportTime(c *gin.Context) {
	caller, id, ok := h.target(c)
	if !ok {
		return
	}

	var req model.ReportTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	report, err := h.sessionService.ReportRemainingTime(c.Request.Context(), id, caller, *req.RemainingSeconds)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}

// CompleteSession godoc
// POST /api/v1/candidate/sessions/:id/complete
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	caller, id, ok := h.target(c)
	if !ok {
		return
	}

	result, err := h.sessionService.RequestCompletion(c.Request.Context(), id, caller)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// target resolves the caller and the :id path parameter.
func (h *SessionHandler) target(c *gin.Context) (model.Caller, uuid.UUID, bool) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return model.Caller{}, uuid.Nil, false
	}
	id, ok := parseID(c, "id")
	if !ok {
		return model.Caller{}, uuid.Nil, false
	}
	return caller, id, true
}
