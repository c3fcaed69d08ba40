package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"rag-ingest-backend/internal/shared/server/respond"
	"rag-ingest-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 JSON error. Nothing about the panic is echoed to the caller.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := map[string]any{
				"requestId": RequestIDFromContext(c),
				"method":    c.Request.Method,
				"route":     c.FullPath(),
				"panic":     rec,
				"stack":     string(debug.Stack()),
			}
			if id := c.GetString(DocumentIDKey); id != "" {
				fields["documentId"] = id
			}
			telemetry.Error("http.panic", fields)
			respond.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error", nil)
		}()
		c.Next()
	}
}
