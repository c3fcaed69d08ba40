package respond

import (
	"github.com/gin-gonic/gin"

	"rag-ingest-backend/internal/shared/telemetry"
)

// Error sends the standard failure body {ok:false, code, message} merged with extras.
// Extras never override ok, code or message.
func Error(c *gin.Context, status int, code, message string, extras gin.H) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if status >= 500 {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	body := gin.H{}
	for k, v := range extras {
		body[k] = v
	}
	body["ok"] = false
	body["code"] = code
	body["message"] = message

	c.AbortWithStatusJSON(status, body)
}
