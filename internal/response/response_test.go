package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, reqID string, h gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", h)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if reqID != "" {
		req.Header.Set(HeaderRequestID, reqID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestRequestIDEchoedWhenAcceptable(t *testing.T) {
	w, body := serve(t, "trace-abc-123", func(c *gin.Context) {
		Success(c, http.StatusOK, gin.H{"ok": true})
	})

	assert.Equal(t, "trace-abc-123", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "trace-abc-123", body.Metadata.RequestID)
	assert.NotZero(t, body.Metadata.ServerTime)
	assert.Nil(t, body.Error)
}

func TestRequestIDReplacedWhenUnacceptable(t *testing.T) {
	for _, id := range []string{"has space", strings.Repeat("a", 65)} {
		w, body := serve(t, id, func(c *gin.Context) {
			Success(c, http.StatusOK, nil)
		})
		assert.NotEqual(t, id, body.Metadata.RequestID)
		assert.Len(t, body.Metadata.RequestID, 36)
		assert.Equal(t, body.Metadata.RequestID, w.Header().Get(HeaderRequestID))
	}
}

func TestFailWithFields(t *testing.T) {
	w, body := serve(t, "", func(c *gin.Context) {
		FailWithFields(c, http.StatusBadRequest, ErrValidation, map[string]string{"value": "required"})
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, ErrValidation, body.Error.Code)
	assert.Equal(t, GetMessage(ErrValidation), body.Error.Message)
	assert.Equal(t, map[string]string{"value": "required"}, body.Error.Fields)
}

func TestAbortFailStopsChain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	reached := false
	r.GET("/x", func(c *gin.Context) {
		AbortFail(c, http.StatusUnauthorized, ErrTokenRequired)
	}, func(c *gin.Context) {
		reached = true
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, reached)
	assert.Contains(t, w.Body.String(), string(ErrTokenRequired))
}
