package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/shared/storage/object"
	"rag-ingest-backend/internal/shared/telemetry"
)

const (
	defaultRemoteLimit = 100
	maxRemoteLimit     = 1000
	defaultSyncWorkers = 4
)

// RemoteDocument is the indexing service's view of one document.
type RemoteDocument struct {
	ID     string
	Title  string
	Status Status
	Chunks int
	Error  string
	Raw    map[string]any
}

// RemoteDocuments lists what the indexing service holds, with a derived status.
func (s *Service) RemoteDocuments(ctx context.Context, limit int) ([]RemoteDocument, error) {
	switch {
	case limit <= 0:
		limit = defaultRemoteLimit
	case limit > maxRemoteLimit:
		limit = maxRemoteLimit
	}
	resp, err := s.RAG.ListDocuments(ctx, limit)
	if err != nil {
		return nil, err
	}

	items := resp.Items()
	out := make([]RemoteDocument, 0, len(items))
	for _, item := range items {
		out = append(out, toRemoteDocument(item))
	}
	return out, nil
}

func toRemoteDocument(item map[string]any) RemoteDocument {
	rd := RemoteDocument{
		ID:    stringField(item, "docId", "doc_id", "id"),
		Title: stringField(item, "title"),
		Error: stringField(item, "error"),
		Raw:   item,
	}
	rd.Chunks, _ = ragclient.IntField(item, "chunks")
	rd.Status = DeriveStatus(stringField(item, "status"), rd.Error, rd.Chunks)
	return rd
}

// DeriveStatus infers a lifecycle status from a remote listing entry:
// an explicit status wins, then an error, then a positive chunk count.
func DeriveStatus(status, errMsg string, chunks int) Status {
	if st, ok := ParseStatus(status); ok {
		return st
	}
	if errMsg != "" {
		return StatusFailed
	}
	if chunks > 0 {
		return StatusCompleted
	}
	return StatusPending
}

// SyncOptions controls a metadata sync run.
type SyncOptions struct {
	DryRun      bool
	Concurrency int
}

// SyncReport tallies a metadata sync run.
type SyncReport struct {
	Updated int
	Failed  int
	Skipped int
}

// SyncMeta pushes local descriptive metadata for every live document that the
// indexing service has accepted. Per-document failures are counted, not returned.
func (s *Service) SyncMeta(ctx context.Context, opts SyncOptions) (SyncReport, error) {
	docs, err := s.Repo.ListAll(ctx)
	if err != nil {
		return SyncReport{}, err
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = defaultSyncWorkers
	}

	var updated, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, doc := range docs {
		if doc.RemoteID == "" || doc.Status == StatusFailed {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			meta := remoteMeta(doc)
			if opts.DryRun {
				telemetry.Info("ragsync.would_update", map[string]any{"documentId": doc.ID, "remoteId": doc.RemoteID})
				updated.Add(1)
				return nil
			}
			if _, err := s.RAG.UpdateMeta(gctx, doc.RemoteID, meta); err != nil {
				failed.Add(1)
				telemetry.Warn("ragsync.update_failed", map[string]any{"documentId": doc.ID, "error": err})
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	err = g.Wait()

	return SyncReport{
		Updated: int(updated.Load()),
		Failed:  int(failed.Load()),
		Skipped: int(skipped.Load()),
	}, err
}

func remoteMeta(doc Document) map[string]any {
	meta := make(map[string]any, len(doc.Metadata)+6)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["title"] = doc.Title
	meta["description"] = doc.Description
	meta["audience"] = string(doc.Audience)
	if doc.FileName != "" {
		meta["fileName"] = doc.FileName
		meta["mimeType"] = doc.MimeType
	}
	if doc.SourceURL != "" {
		meta["url"] = doc.SourceURL
	}
	return meta
}

// ReconcileReport tallies a reconcile run.
type ReconcileReport struct {
	Completed int
	Failed    int
	Unchanged int
}

// Reconcile settles documents left PROCESSING using the remote listing.
func (s *Service) Reconcile(ctx context.Context, limit int) (ReconcileReport, error) {
	var report ReconcileReport

	remote, err := s.RemoteDocuments(ctx, limit)
	if err != nil {
		return report, err
	}
	byID := make(map[string]RemoteDocument, len(remote))
	for _, rd := range remote {
		if rd.ID != "" {
			byID[rd.ID] = rd
		}
	}

	docs, err := s.Repo.ListAll(ctx)
	if err != nil {
		return report, err
	}
	for _, doc := range docs {
		if doc.Status != StatusProcessing {
			continue
		}
		rd, ok := byID[doc.RemoteKey()]
		if !ok {
			report.Unchanged++
			continue
		}
		switch rd.Status {
		case StatusCompleted:
			stamp := s.now()
			doc.InsertedAt = &stamp
			if err := s.transition(ctx, &doc, StatusCompleted, ""); err != nil {
				return report, err
			}
			report.Completed++
		case StatusFailed:
			msg := rd.Error
			if msg == "" {
				msg = "indexing failed"
			}
			if err := s.transition(ctx, &doc, StatusFailed, msg); err != nil {
				return report, err
			}
			report.Failed++
		default:
			report.Unchanged++
		}
	}
	return report, nil
}

// OpenOriginal streams the archived upload of a file document.
func (s *Service) OpenOriginal(ctx context.Context, id string) (io.ReadCloser, Document, error) {
	doc, err := s.Repo.FindByIDOrRemoteID(ctx, id)
	if err != nil {
		return nil, Document{}, err
	}
	if doc.StorageKey == "" || s.Store == nil {
		return nil, doc, ErrNoArchive
	}
	rc, err := s.Store.Open(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return nil, doc, ErrNoArchive
		}
		return nil, doc, fmt.Errorf("open archived original: %w", err)
	}
	return rc, doc, nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
