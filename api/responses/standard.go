// Package responses formats admin API replies: an AdminResponse envelope
// for success and RFC 7807 problem details for errors.
package responses

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aidin1998/finsync/pkg/errors"
)

// AdminResponse is the envelope of every successful admin API reply.
type AdminResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

func write(c *gin.Context, status int, data interface{}, fallback string, message []string) {
	msg := fallback
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}
	c.JSON(status, AdminResponse{
		Success:   true,
		Data:      data,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		TraceID:   getTraceID(c),
	})
}

// Success sends a 200 response
func Success(c *gin.Context, data interface{}, message ...string) {
	write(c, http.StatusOK, data, "", message)
}

// Accepted sends a 202 response for work that completes asynchronously
func Accepted(c *gin.Context, data interface{}, message ...string) {
	write(c, http.StatusAccepted, data, "accepted", message)
}

// Error sends problem as application/problem+json
func Error(c *gin.Context, problem *errors.ProblemDetails) {
	if problem.TraceID == "" {
		if traceID := getTraceID(c); traceID != "" {
			problem.WithTraceID(traceID)
		}
	}
	if problem.Instance == "" {
		problem.Instance = c.Request.URL.Path
	}
	problem.WithExtra("timestamp", time.Now().UTC().Format(time.RFC3339))
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(problem.Status, problem)
}

func BadRequest(c *gin.Context, detail string, validationErrors ...errors.ValidationError) {
	problem := errors.NewValidationError(detail, c.Request.URL.Path)
	if len(validationErrors) > 0 {
		problem.WithValidationErrors(validationErrors)
	}
	Error(c, problem)
}

func Unauthorized(c *gin.Context, detail string) {
	Error(c, errors.NewUnauthorizedError(detail, c.Request.URL.Path))
}

func NotFound(c *gin.Context, detail string) {
	Error(c, errors.NewNotFoundError(detail, c.Request.URL.Path))
}

func InternalServerError(c *gin.Context, detail string) {
	Error(c, errors.NewInternalError(detail, c.Request.URL.Path))
}

func ServiceUnavailable(c *gin.Context, detail string) {
	Error(c, errors.NewServiceUnavailableError(detail, c.Request.URL.Path))
}

// TooManyRequests sends a 429 with a Retry-After header in whole seconds.
func TooManyRequests(c *gin.Context, detail string, retryAfterSeconds int) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	Error(c, errors.NewRateLimitError(detail, c.Request.URL.Path).WithExtra("retry_after", retryAfterSeconds))
}

// getTraceID prefers the active span, then the X-Trace-ID header.
func getTraceID(c *gin.Context) string {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return c.GetHeader("X-Trace-ID")
}
