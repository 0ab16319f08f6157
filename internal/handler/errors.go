package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/response"
	"github.com/stemsi/intervu-backend/internal/service"
)

// apiError is a service error translated for the transport layer.
type apiError struct {
	status int
	code   response.ErrCode
	fields map[string]string
}

// classify maps service errors onto HTTP status codes and error codes.
// Unknown errors become INTERNAL_ERROR.
func classify(err error) apiError {
	var (
		conflictErr   *service.StatusConflictError
		validationErr *service.ValidationError
	)

	switch {
	case errors.As(err, &validationErr):
		return apiError{http.StatusBadRequest, response.ErrValidation,
			map[string]string{validationErr.Field: validationErr.Reason}}
	case errors.Is(err, service.ErrAlreadyFinished) && errors.As(err, &conflictErr):
		return apiError{http.StatusConflict, response.ErrSessionAlreadyFinished,
			map[string]string{"current_status": string(conflictErr.Current)}}
	case errors.Is(err, service.ErrActiveSessionExists) && errors.As(err, &conflictErr):
		fields := map[string]string{"current_status": string(conflictErr.Current)}
		if conflictErr.SessionID != uuid.Nil {
			fields["session_id"] = conflictErr.SessionID.String()
		}
		return apiError{http.StatusConflict, response.ErrSessionAlreadyActive, fields}
	case errors.As(err, &conflictErr):
		return apiError{http.StatusConflict, response.ErrSessionConflict,
			map[string]string{"current_status": string(conflictErr.Current)}}
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrEvaluationNotFound),
		errors.Is(err, service.ErrCandidateNotFound):
		return apiError{status: http.StatusNotFound, code: response.ErrNotFound}
	case errors.Is(err, service.ErrForbidden):
		return apiError{status: http.StatusForbidden, code: response.ErrForbidden}
	case errors.Is(err, service.ErrSessionBusy):
		return apiError{status: http.StatusConflict, code: response.ErrSessionBusy}
	case errors.Is(err, service.ErrInsufficientQuestions):
		return apiError{status: http.StatusUnprocessableEntity, code: response.ErrInsufficientQuestions}
	default:
		return apiError{status: http.StatusInternalServerError, code: response.ErrInternal}
	}
}

// failService writes err as a response envelope. Internal errors are logged.
func failService(c *gin.Context, log zerolog.Logger, err error) {
	e := classify(err)
	if e.status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	if e.fields != nil {
		response.FailWithFields(c, e.status, e.code, e.fields)
		return
	}
	response.Fail(c, e.status, e.code)
}

// parseID reads a UUID path parameter, failing the request when malformed.
func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
