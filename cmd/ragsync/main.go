package main

// Push local metadata to the indexing service and settle documents stuck in PROCESSING:
//   go run ./cmd/ragsync -dry-run
//   go run ./cmd/ragsync -reconcile -limit 500

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rag-ingest-backend/internal/bootstrap"
	"rag-ingest-backend/internal/documents"
	"rag-ingest-backend/internal/shared/config"
	"rag-ingest-backend/internal/shared/telemetry"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report what would be pushed without calling the indexing service")
	reconcile := flag.Bool("reconcile", false, "settle PROCESSING documents from the remote listing")
	concurrency := flag.Int("concurrency", 0, "parallel metadata pushes (defaults to RAG_SYNC_CONCURRENCY)")
	limit := flag.Int("limit", 1000, "remote documents to read when reconciling")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if _, err := telemetry.Init(cfg.Env); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer telemetry.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	if app.DB != nil {
		defer app.DB.Close()
	}
	if !app.RAG.Configured() {
		log.Fatal("RAG_API_BASE and RAG_SERVICE_API_KEY are required")
	}

	workers := *concurrency
	if workers <= 0 {
		workers = cfg.RAG.SyncConcurrency
	}
	report, err := app.DocumentsService.SyncMeta(ctx, documents.SyncOptions{DryRun: *dryRun, Concurrency: workers})
	if err != nil {
		log.Fatalf("sync metadata: %v", err)
	}
	telemetry.Info("ragsync.meta", map[string]any{
		"updated": report.Updated,
		"failed":  report.Failed,
		"skipped": report.Skipped,
		"dryRun":  *dryRun,
	})

	if *reconcile && !*dryRun {
		runReconcile(ctx, app.DocumentsService, *limit)
	}
	if report.Failed > 0 {
		telemetry.Sync()
		os.Exit(1)
	}
}

func runReconcile(ctx context.Context, svc *documents.Service, limit int) {
	rec, err := svc.Reconcile(ctx, limit)
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}
	telemetry.Info("ragsync.reconcile", map[string]any{
		"completed": rec.Completed,
		"failed":    rec.Failed,
		"unchanged": rec.Unchanged,
	})
}
