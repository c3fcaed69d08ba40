package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rag-ingest-backend/internal/shared/auth"
	"rag-ingest-backend/internal/shared/reqctx"
	"rag-ingest-backend/internal/shared/server/respond"
)

const (
	userIDKey    = "userId"
	principalKey = "principal"
)

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Auth requires a valid bearer token on every request except the listed public paths.
func Auth(verifier TokenVerifier, publicPaths ...string) gin.HandlerFunc {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if _, ok := public[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}

		p, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}

		c.Set(userIDKey, p.UserID)
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(reqctx.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// RequireAdmin rejects callers without an identity (401) or without admin rights (403).
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFromContext(c)
		if !ok {
			respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
			return
		}
		if !p.Admin() {
			respond.Error(c, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
			return
		}
		c.Next()
	}
}

// PrincipalFromContext fetches the caller identity set by Auth.
func PrincipalFromContext(c *gin.Context) (auth.Principal, bool) {
	if c == nil {
		return auth.Principal{}, false
	}
	val, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := val.(auth.Principal)
	if !ok || p.UserID == "" {
		return auth.Principal{}, false
	}
	return p, true
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(userIDKey)
}
