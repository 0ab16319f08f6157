package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"

	contextKeyRequestID = "request_id"
	maxRequestIDLength  = 64
)

// RequestIDMiddleware tags each request with an ID, echoing a caller's
// X-Request-ID when it is short printable ASCII.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if !acceptableRequestID(reqID) {
			reqID = uuid.NewString()
		}
		c.Set(contextKeyRequestID, reqID)
		c.Header(HeaderRequestID, reqID)
		c.Next()
	}
}

// RequestID returns the ID assigned by RequestIDMiddleware, or a fresh one
// when the middleware did not run.
func RequestID(c *gin.Context) string {
	if id := c.GetString(contextKeyRequestID); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Set(contextKeyRequestID, id)
	return id
}

func acceptableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
