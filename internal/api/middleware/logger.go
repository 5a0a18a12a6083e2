package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/tracing"
)

// Logger logs one line per request through zap. Upgraded WebSocket requests
// are logged when the connection ends.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if traceID := c.Writer.Header().Get(tracing.HeaderTraceID); traceID != "" {
			fields = append(fields, zap.String("trace_id", traceID))
		}

		switch {
		case len(c.Errors) > 0:
			logger.Warn("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
		case c.Writer.Status() >= 500:
			logger.Error("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
