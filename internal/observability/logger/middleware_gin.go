package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/recurhq/recur/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) string
}

// GinMiddleware logs each request with correlation identifiers and safe fields.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := c.Request.Context()
		requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
		if requestID != "" {
			ctx = correlation.ContextWithCorrelationID(ctx, requestID)
		}
		ctx, requestID = correlation.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", normalizeBytes(c.Request.ContentLength)),
			zap.Int("bytes_out", normalizeSize(c.Writer.Size())),
		}

		if lastErr := c.Errors.Last(); lastErr != nil {
			errorKind := ""
			if cfg.ErrorClassifier != nil {
				errorKind = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_kind", errorKind),
				zap.Error(lastErr.Err),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("http.request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("http.request", fields...)
		default:
			log.Info("http.request", fields...)
		}
	}
}

func normalizeBytes(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func normalizeSize(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
