package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"smartsched/internal/logging"
	"smartsched/internal/observability"
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

// requestLogger tags each request with an id and logs it once it completes.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		started := time.Now()
		requestID := resolveRequestID(c)
		c.Header(requestIDHeader, requestID)
		ctx := observability.ContextWithTraceID(c.Request.Context(), requestID)
		if id := c.Param("id"); id != "" {
			ctx = observability.ContextWithSessionID(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		logging.FromContext(ctx, logger).Info("%s %s -> %d in %s request=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(started).Round(time.Millisecond), requestID)
	}
}

// tracing wraps each API request in a span.
func tracing(tracer *observability.TracerProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.StartSpan(c.Request.Context(), observability.SpanHTTPRequest)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		observability.EndSpan(span, err)
	}
}
