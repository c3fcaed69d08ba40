package server

import (
	"github.com/gin-gonic/gin"

	"rag-ingest-backend/internal/analyze"
	"rag-ingest-backend/internal/documents"
	"rag-ingest-backend/internal/shared/config"
	"rag-ingest-backend/internal/shared/metrics"
	"rag-ingest-backend/internal/shared/server/middleware"
	"rag-ingest-backend/internal/shared/server/respond"
)

const healthPath = "/api/v1/health"

// RouterDeps defines the handlers and collaborators needed to build the router.
type RouterDeps struct {
	Config          config.Config
	Tokens          middleware.TokenVerifier
	DocumentHandler *documents.Handler
	AnalyzeHandler  *analyze.Handler
	// RAGConfigured is reported by the health endpoint.
	RAGConfigured bool
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Metrics(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.NoStore(),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1", middleware.Auth(deps.Tokens, healthPath))
	api.GET("/health", func(c *gin.Context) {
		respond.OK(c, gin.H{
			"env":           deps.Config.Env,
			"ragConfigured": deps.RAGConfigured,
		})
	})

	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	if deps.AnalyzeHandler != nil {
		deps.AnalyzeHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
