package middleware

import "github.com/gin-gonic/gin"

// NoStore marks every response as uncacheable.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Cache-Control", "no-store, max-age=0")
		h.Set("Pragma", "no-cache")
		c.Next()
	}
}
