package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskbench/internal/shared/logging"
)

const requestIDHeader = "X-Request-Id"

func resolveRequestID(c *gin.Context) string {
	for _, header := range []string{requestIDHeader, "X-Log-Id", "X-Correlation-Id"} {
		if value := strings.TrimSpace(c.GetHeader(header)); value != "" {
			return value
		}
	}
	return uuid.NewString()
}

// LoggingMiddleware logs each request with its status and latency. The
// request id is echoed back in X-Request-Id.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		id := resolveRequestID(c)
		c.Header(requestIDHeader, id)
		start := time.Now()
		c.Next()
		reqLogger := logging.With(logger, "request_id", id)
		status := c.Writer.Status()
		switch {
		case status >= 500:
			reqLogger.Error("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		default:
			reqLogger.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		}
	}
}
