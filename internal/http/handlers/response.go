package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ask-gateway/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
//
//	HTTP/1.1 404 Not Found
//	{"request_id": "123e4567-e89b-12d3-a456-426614174000", "code": "not_found", "message": "usage record not found"}
type ErrorResponse struct {
	// Echo of X-Request-ID, correlates client errors with server logs.
	RequestID string `json:"request_id,omitempty"`
	// Stable machine-readable code, see errors.go.
	Code string `json:"code"`
	// Human-readable message.
	Message string `json:"message"`
}

// fail aborts with an ErrorResponse. Server errors are logged through the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for callers outside this package, such as the router's
// NoRoute and NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
