package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/response"
	"github.com/stemsi/intervu-backend/internal/service"
)

// EvaluationHandler serves graded results to administrators.
type EvaluationHandler struct {
	evaluationService *service.EvaluationService
	log               zerolog.Logger
}

// NewEvaluationHandler creates a new EvaluationHandler.
func NewEvaluationHandler(evaluationService *service.EvaluationService, log zerolog.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		evaluationService: evaluationService,
		log:               log.With().Str("component", "evaluation_handler").Logger(),
	}
}

// ListEvaluations godoc
// GET /api/v1/admin/evaluations?candidate_id=&page=&per_page=
func (h *EvaluationHandler) ListEvaluations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	candidateID := 0
	if raw := c.Query("candidate_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 1 {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		candidateID = id
	}

	evaluations, pagination, err := h.evaluationService.List(c.Request.Context(), candidateID, page, perPage)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"evaluations": evaluations}, pagination)
}

// GetSessionEvaluation godoc
// GET /api/v1/admin/sessions/:id/evaluation
func (h *EvaluationHandler) GetSessionEvaluation(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	eval, err := h.evaluationService.GetBySession(c.Request.Context(), id)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"evaluation": eval})
}

// Regrade godoc
// POST /api/v1/admin/sessions/:id/regrade
// Grades a terminal session whose evaluation is missing. An existing
// evaluation is returned unchanged.
func (h *EvaluationHandler) Regrade(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	eval, err := h.evaluationService.Regrade(c.Request.Context(), id)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"evaluation": eval})
}
