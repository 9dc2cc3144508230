package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/shared/metrics"
	"medsnap-backend/internal/shared/server/respond"
	"medsnap-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 envelope. The panic value is
// logged, never echoed to the client, because it may quote document metadata.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			route := c.FullPath()
			metrics.IncPanic(route)
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"route":      route,
				"method":     c.Request.Method,
				"panic":      fmt.Sprint(rec),
				"stack":      string(debug.Stack()),
			}
			if userID := UserIDFromContext(c); userID != "" {
				fields["user_id"] = userID
			}
			telemetry.Error("http.panic", fields)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal_error", "Unexpected server error", nil)
		}()
		c.Next()
	}
}
