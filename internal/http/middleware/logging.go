// README: Request logging and latency metrics on the shared zerolog logger.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dispatch/internal/logger"
	"dispatch/internal/metrics"
)

const RequestIDHeader = "X-Request-ID"

func Logging(log *logger.Logger, m *metrics.Dispatch) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		ctx := log.WithRequestID(c.Request.Context(), reqID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveRequest(route, status, elapsed)

		ctx = log.WithFields(ctx, map[string]any{
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"elapsed_ms": elapsed.Milliseconds(),
			"caller":     CallerUID(c),
		})
		switch {
		case status >= http.StatusInternalServerError:
			log.Error(ctx, "request failed", lastError(c))
		case status >= http.StatusBadRequest:
			log.Warn(ctx, "request rejected", lastError(c))
		default:
			log.Debug(ctx, "request")
		}
	}
}

func lastError(c *gin.Context) error {
	if e := c.Errors.Last(); e != nil {
		return e.Err
	}
	return nil
}
