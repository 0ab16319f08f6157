package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/repository"
	"github.com/stemsi/intervu-backend/internal/response"
	"github.com/stemsi/intervu-backend/internal/service"
	"github.com/stemsi/intervu-backend/internal/validator"
)

// QuestionHandler handles question bank endpoints.
type QuestionHandler struct {
	questionService *service.QuestionService
	log             zerolog.Logger
}

// NewQuestionHandler creates a new QuestionHandler.
func NewQuestionHandler(questionService *service.QuestionService, log zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		questionService: questionService,
		log:             log.With().Str("component", "question_handler").Logger(),
	}
}

// ListQuestions godoc
// GET /api/v1/admin/questions?field=&level=&type=&format=&page=&per_page=
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	filter := repository.QuestionFilter{
		Field:  c.Query("field"),
		Level:  c.Query("level"),
		Type:   model.QuestionType(c.Query("type")),
		Format: model.QuestionFormat(c.Query("format")),
	}

	questions, pagination, err := h.questionService.ListQuestions(c.Request.Context(), filter, page, perPage)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"questions": questions}, pagination)
}

// CreateQuestion godoc
// POST /api/v1/admin/questions
// Adds a question to the bank.
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	var req model.CreateQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.questionService.CreateQuestion(c.Request.Context(), req)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"question": q})
}
