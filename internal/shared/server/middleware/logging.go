package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/shared/metrics"
	"medsnap-backend/internal/shared/telemetry"
)

// Logging emits a structured log per request and records request metrics.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()

		metrics.ObserveRequest(c.Request.Method, route, status, latency.Seconds())

		documentID, _ := c.Get("documentId")
		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       route,
			"status":      status,
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"user_id":     UserIDFromContext(c),
			"document_id": documentID,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch {
		case status >= 500:
			telemetry.Error("request.complete", fields)
		case status >= 400:
			telemetry.Warn("request.complete", fields)
		default:
			telemetry.Info("request.complete", fields)
		}
	}
}
