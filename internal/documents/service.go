package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"rag-ingest-backend/internal/extract"
	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/safety"
	"rag-ingest-backend/internal/shared/metrics"
	"rag-ingest-backend/internal/shared/storage/object"
	"rag-ingest-backend/internal/shared/telemetry"
	"rag-ingest-backend/internal/shared/util"
)

const (
	maxTitleLen       = 255
	maxDescriptionLen = 2000
	maxErrorLen       = 2000
)

// Indexer is the remote indexing service as the orchestrator uses it.
// *ragclient.Client satisfies it.
type Indexer interface {
	PushFile(ctx context.Context, in ragclient.FileRequest) (ragclient.Response, error)
	PushURL(ctx context.Context, in ragclient.URLRequest) (ragclient.Response, error)
	Reindex(ctx context.Context, remoteID string) (ragclient.Response, error)
	Delete(ctx context.Context, remoteID string) (ragclient.Response, error)
	Search(ctx context.Context, in ragclient.SearchRequest) (ragclient.Response, error)
	ListDocuments(ctx context.Context, limit int) (ragclient.Response, error)
	UpdateMeta(ctx context.Context, remoteID string, meta map[string]any) (ragclient.Response, error)
	Health(ctx context.Context) (ragclient.Response, error)
	IngestArticles(ctx context.Context, remoteID string, articles []ragclient.Article) (ragclient.Response, error)
	ParseIssue(ctx context.Context, in ragclient.ParseIssueRequest) (ragclient.Response, error)
	ArticlePDF(ctx context.Context, remoteID string, start, end int, fileName string) (ragclient.Response, error)
}

// Service owns the document lifecycle. It is the only writer of document status.
type Service struct {
	Repo      Repo
	RAG       Indexer
	Validator *safety.Validator
	// Store archives original uploads when Archive is set. Nil disables archiving.
	Store   object.ObjectStore
	Archive bool
	Now     func() time.Time
}

// FileUpload is an admin file submission.
type FileUpload struct {
	FileName     string
	DeclaredMIME string
	Data         []byte
	Audience     Audience
	Title        string
	Description  string
	Metadata     map[string]any
	AdminID      string
}

// URLSubmission is an admin web page submission.
type URLSubmission struct {
	URL         string
	Audience    Audience
	Title       string
	Description string
	Metadata    map[string]any
	AdminID     string
}

// IngestResult is the outcome of a create, reindex or delete flow.
// Doc is populated whenever a local record exists, including on failure.
type IngestResult struct {
	Doc Document
	RAG ragclient.Response
}

// IngestFile validates, records and pushes an uploaded file.
// On upstream failure the returned result still carries the FAILED document.
func (s *Service) IngestFile(ctx context.Context, in FileUpload) (IngestResult, error) {
	audience, ok := ParseAudience(string(in.Audience))
	if !ok {
		return IngestResult{}, invalidInput("audience must be one of CLIENT, SOCIAL_WORKER, BOTH")
	}

	verdict, err := s.Validator.ValidateFile(safety.FileInput{
		FileName:     in.FileName,
		DeclaredMIME: in.DeclaredMIME,
		Data:         in.Data,
	})
	if err != nil {
		metrics.IncIngested(string(TypeFile), "rejected")
		return IngestResult{}, err
	}

	fileName := util.SanitizeFileName(in.FileName)
	if verdict.ExtensionMismatch {
		telemetry.Warn("documents.extension_mismatch", map[string]any{
			"fileName": fileName,
			"mimeType": verdict.MimeType,
		})
	}

	now := s.now()
	doc := Document{
		ID:            uuid.NewString(),
		Type:          TypeFile,
		Status:        StatusPending,
		Audience:      audience,
		Title:         normalizeTitle(in.Title, fileName),
		Description:   util.TruncateRunes(in.Description, maxDescriptionLen),
		FileName:      fileName,
		MimeType:      verdict.MimeType,
		FileSize:      verdict.Size,
		ContentSHA256: verdict.SHA256,
		AdminID:       in.AdminID,
		Metadata:      maps.Clone(in.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	if info, err := extract.Describe(ctx, in.Data, verdict.MimeType); err == nil {
		maps.Copy(doc.Metadata, info.Metadata())
	} else if !errors.Is(err, extract.ErrUnsupported) {
		telemetry.Warn("documents.extract_failed", map[string]any{"documentId": doc.ID, "error": err})
	}
	s.archive(ctx, &doc, in.Data)

	if err := s.Repo.Create(ctx, doc); err != nil {
		return IngestResult{}, fmt.Errorf("create document: %w", err)
	}

	resp, pushErr := s.RAG.PushFile(ctx, ragclient.FileRequest{
		DocID:         doc.ID,
		FileName:      doc.FileName,
		MimeType:      doc.MimeType,
		ContentSHA256: doc.ContentSHA256,
		Title:         doc.Title,
		Description:   doc.Description,
		Audience:      string(doc.Audience),
		Data:          in.Data,
		Metadata:      doc.Metadata,
	})
	return s.settleIngest(ctx, doc, resp, pushErr)
}

// IngestURL validates, records and pushes a web page.
func (s *Service) IngestURL(ctx context.Context, in URLSubmission) (IngestResult, error) {
	audience, ok := ParseAudience(string(in.Audience))
	if !ok {
		return IngestResult{}, invalidInput("audience must be one of CLIENT, SOCIAL_WORKER, BOTH")
	}

	u, err := s.Validator.ValidateURL(ctx, in.URL)
	if err != nil {
		metrics.IncIngested(string(TypeURL), "rejected")
		return IngestResult{}, err
	}
	sourceURL := u.String()

	now := s.now()
	doc := Document{
		ID:          uuid.NewString(),
		Type:        TypeURL,
		Status:      StatusPending,
		Audience:    audience,
		Title:       normalizeTitle(in.Title, sourceURL),
		Description: util.TruncateRunes(in.Description, maxDescriptionLen),
		SourceURL:   sourceURL,
		AdminID:     in.AdminID,
		Metadata:    maps.Clone(in.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	if err := s.Repo.Create(ctx, doc); err != nil {
		return IngestResult{}, fmt.Errorf("create document: %w", err)
	}

	resp, pushErr := s.RAG.PushURL(ctx, ragclient.URLRequest{
		DocID:       doc.ID,
		URL:         sourceURL,
		Title:       doc.Title,
		Description: doc.Description,
		Audience:    string(doc.Audience),
		Metadata:    doc.Metadata,
	})
	return s.settleIngest(ctx, doc, resp, pushErr)
}

// settleIngest records the push outcome. PENDING always passes through PROCESSING.
func (s *Service) settleIngest(ctx context.Context, doc Document, resp ragclient.Response, pushErr error) (IngestResult, error) {
	ctx = context.WithoutCancel(ctx)
	result := IngestResult{Doc: doc, RAG: resp}

	if pushErr != nil {
		if err := s.transition(ctx, &doc, StatusFailed, failureMessage(pushErr)); err != nil {
			return result, errors.Join(pushErr, err)
		}
		metrics.IncIngested(string(doc.Type), string(StatusFailed))
		result.Doc = doc
		return result, pushErr
	}

	doc.RemoteID = firstNonEmpty(resp.String("remoteId"), resp.String("docId"), doc.ID)
	if err := s.transition(ctx, &doc, StatusProcessing, ""); err != nil {
		return result, err
	}
	if remoteCompleted(resp) {
		stamp := s.now()
		doc.InsertedAt = &stamp
		if err := s.transition(ctx, &doc, StatusCompleted, ""); err != nil {
			return result, err
		}
	}
	metrics.IncIngested(string(doc.Type), string(doc.Status))
	result.Doc = doc
	return result, nil
}

// Reindex asks the remote service to rebuild a document's index entries.
// The local status is PROCESSING before the remote call starts.
func (s *Service) Reindex(ctx context.Context, id string) (IngestResult, error) {
	doc, err := s.Repo.FindByIDOrRemoteID(ctx, id)
	if err != nil {
		return IngestResult{}, err
	}
	if err := s.transition(ctx, &doc, StatusProcessing, ""); err != nil {
		return IngestResult{Doc: doc}, err
	}

	resp, rerr := s.RAG.Reindex(ctx, doc.RemoteKey())

	ctx = context.WithoutCancel(ctx)
	if rerr != nil {
		if err := s.transition(ctx, &doc, StatusFailed, failureMessage(rerr)); err != nil {
			return IngestResult{Doc: doc, RAG: resp}, errors.Join(rerr, err)
		}
		return IngestResult{Doc: doc, RAG: resp}, rerr
	}

	// Without a COMPLETED status or a positive inserted count the document stays
	// PROCESSING until Reconcile sees the remote state.
	if remoteCompleted(resp) {
		stamp := s.now()
		doc.InsertedAt = &stamp
		if err := s.transition(ctx, &doc, StatusCompleted, ""); err != nil {
			return IngestResult{Doc: doc, RAG: resp}, err
		}
	}
	return IngestResult{Doc: doc, RAG: resp}, nil
}

// DeleteResult reports what an idempotent delete found.
type DeleteResult struct {
	Deleted       int
	HadLocal      bool
	RemoteMissing bool
}

// Delete removes a document remotely, then locally. Already-absent records on
// either side are not errors. Upstream failures leave local state untouched.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult

	remoteKey := id
	doc, err := s.Repo.FindByIDOrRemoteID(ctx, id)
	switch {
	case err == nil:
		result.HadLocal = true
		remoteKey = doc.RemoteKey()
	case !errors.Is(err, ErrNotFound):
		return result, err
	}

	resp, err := s.RAG.Delete(ctx, remoteKey)
	if err != nil {
		return result, err
	}
	result.RemoteMissing = resp.NotFound

	ctx = context.WithoutCancel(ctx)
	n, err := s.Repo.Delete(ctx, id)
	if err != nil {
		return result, fmt.Errorf("delete local document: %w", err)
	}
	result.Deleted = n

	if result.HadLocal && doc.StorageKey != "" && s.Store != nil {
		if err := s.Store.Delete(ctx, doc.StorageKey); err != nil && !errors.Is(err, object.ErrNotFound) {
			telemetry.Warn("documents.archive_delete_failed", map[string]any{"documentId": doc.ID, "error": err})
		}
	}

	telemetry.Info("documents.deleted", map[string]any{
		"documentId":    id,
		"deleted":       result.Deleted,
		"remoteMissing": result.RemoteMissing,
	})
	return result, nil
}

// Get returns a live document by local or remote ID.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	return s.Repo.FindByIDOrRemoteID(ctx, id)
}

// List returns live documents newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	filter.Limit = ClampLimit(filter.Limit)
	return s.Repo.List(ctx, filter)
}

// Search proxies a similarity query to the indexing service.
func (s *Service) Search(ctx context.Context, query string, topK int, filters map[string]any) (ragclient.Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return ragclient.Response{}, invalidInput("query is required")
	}
	if topK < 0 {
		return ragclient.Response{}, invalidInput("top_k must be positive")
	}
	return s.RAG.Search(ctx, ragclient.SearchRequest{Query: query, TopK: topK, Filters: filters})
}

// RemoteHealth asks the indexing service for its health.
func (s *Service) RemoteHealth(ctx context.Context) (ragclient.Response, error) {
	return s.RAG.Health(ctx)
}

// transition moves doc to next, persisting status, error and timestamps.
func (s *Service) transition(ctx context.Context, doc *Document, next Status, errMsg string) error {
	prev := doc.Status
	if !prev.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	doc.Status = next
	doc.Error = util.TruncateRunes(errMsg, maxErrorLen)
	doc.UpdatedAt = s.now()
	if err := s.Repo.Update(ctx, *doc); err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	telemetry.Info("documents.status", map[string]any{
		"documentId": doc.ID,
		"from":       string(prev),
		"to":         string(next),
	})
	return nil
}

func (s *Service) archive(ctx context.Context, doc *Document, data []byte) {
	if !s.Archive || s.Store == nil {
		return
	}
	key := object.ArchiveKey(doc.ID, doc.FileName)
	if _, err := s.Store.Put(ctx, key, doc.MimeType, bytes.NewReader(data)); err != nil {
		telemetry.Warn("documents.archive_failed", map[string]any{"documentId": doc.ID, "error": err})
		return
	}
	doc.StorageKey = key
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func remoteCompleted(resp ragclient.Response) bool {
	if st, ok := ParseStatus(resp.String("status")); ok && st == StatusCompleted {
		return true
	}
	n, ok := resp.Inserted()
	return ok && n > 0
}

func failureMessage(err error) string {
	if e, ok := ragclient.AsError(err); ok && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func normalizeTitle(title, fallback string) string {
	if t := util.TruncateRunes(title, maxTitleLen); t != "" {
		return t
	}
	return util.TruncateRunes(fallback, maxTitleLen)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
