package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rag-ingest-backend/internal/analyze"
	"rag-ingest-backend/internal/documents"
	"rag-ingest-backend/internal/quota"
	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/safety"
	"rag-ingest-backend/internal/shared/auth"
	"rag-ingest-backend/internal/shared/config"
	"rag-ingest-backend/internal/shared/server"
	"rag-ingest-backend/internal/shared/server/middleware"
	"rag-ingest-backend/internal/shared/storage/db"
	"rag-ingest-backend/internal/shared/storage/object"
	localstore "rag-ingest-backend/internal/shared/storage/object/local"
	s3store "rag-ingest-backend/internal/shared/storage/object/s3"
	"rag-ingest-backend/internal/shared/telemetry"
)

const tokenIssuer = "rag-ingest-backend"

// App holds shared dependencies and the assembled router.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Store            object.ObjectStore
	RAG              *ragclient.Client
	Tokens           *auth.Manager
	DocumentsRepo    documents.Repo
	DocumentsService *documents.Service
	QuotaLedger      *quota.Ledger
	AnalyzeService   *analyze.Service
	DocumentsHandler *documents.Handler
	AnalyzeHandler   *analyze.Handler
}

// Option customises Build, mainly for tests.
type Option func(*buildOptions)

type buildOptions struct {
	resolver safety.Resolver
	ragOpts  []ragclient.Option
}

// WithResolver replaces the DNS resolver used by URL validation.
func WithResolver(r safety.Resolver) Option {
	return func(o *buildOptions) { o.resolver = r }
}

// WithRAGOptions passes options through to the indexing client.
func WithRAGOptions(opts ...ragclient.Option) Option {
	return func(o *buildOptions) { o.ragOpts = append(o.ragOpts, opts...) }
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config, opts ...Option) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if len(cfg.RAG.AllowedMIME) == 0 {
		cfg.RAG.AllowedMIME = config.DefaultAllowedMIME
	}
	bo := buildOptions{resolver: net.DefaultResolver}
	for _, opt := range opts {
		opt(&bo)
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Tokens: auth.NewManager(cfg.JWTSecret, tokenIssuer, 12*time.Hour),
		RAG: ragclient.New(ragclient.Config{
			BaseURL:      cfg.RAG.BaseURL,
			APIKey:       cfg.RAG.APIKey,
			Timeout:      time.Duration(cfg.RAG.TimeoutMS) * time.Millisecond,
			RetryBackoff: time.Duration(cfg.RAG.RetryBackoffMS) * time.Millisecond,
		}, bo.ragOpts...),
	}
	if !app.RAG.Configured() {
		telemetry.Warn("bootstrap.rag_not_configured", map[string]any{"env": cfg.Env})
	}

	buildServices(app, bo)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		Tokens:          app.Tokens,
		DocumentHandler: app.DocumentsHandler,
		AnalyzeHandler:  app.AnalyzeHandler,
		RAGConfigured:   app.RAG.Configured(),
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repositories", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repositories", map[string]any{"reason": "database connect failed", "error": err})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildServices(app *App, bo buildOptions) {
	cfg := app.Config

	var (
		docRepo    documents.Repo
		quotaStore quota.Store
	)
	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		quotaStore = quota.NewPGStore(app.DB)
	} else {
		docRepo = documents.NewMemoryRepo()
		quotaStore = quota.NewMemoryStore()
	}

	docSvc := &documents.Service{
		Repo:      docRepo,
		RAG:       app.RAG,
		Validator: safety.NewValidator(cfg.RAG.AllowedMIME, cfg.RAG.MaxUploadBytes(), bo.resolver),
		Store:     app.Store,
		Archive:   cfg.RAG.ArchiveOriginals,
	}

	var limiter *middleware.RateLimiter
	if cfg.RAG.IngestRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.RAG.IngestRPS, cfg.RAG.IngestBurst, nil)
	}

	ledger := &quota.Ledger{
		Store: quotaStore,
		Limits: quota.Limits{
			Admin:        cfg.Analyze.LimitAdmin,
			SocialWorker: cfg.Analyze.LimitWorker,
			Client:       cfg.Analyze.LimitClient,
		},
	}
	analyzeSvc := &analyze.Service{
		Ledger:    ledger,
		RAG:       app.RAG,
		Validator: safety.NewValidator(cfg.RAG.AllowedMIME, cfg.Analyze.MaxUploadBytes(), bo.resolver),
		MaxChunks: cfg.Analyze.MaxChunks,
	}

	app.DocumentsRepo = docRepo
	app.DocumentsService = docSvc
	app.QuotaLedger = ledger
	app.AnalyzeService = analyzeSvc
	app.DocumentsHandler = documents.NewHandler(docSvc, cfg.RAG.MaxUploadBytes(), limiter)
	app.AnalyzeHandler = analyze.NewHandler(analyzeSvc, cfg.Analyze.MaxUploadBytes())
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}
