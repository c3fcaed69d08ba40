package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/safety"
	"rag-ingest-backend/internal/shared/storage/object/local"
)

type publicResolver struct{}

func (publicResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if host == "internal.example" {
		return []net.IPAddr{{IP: net.ParseIP("10.0.0.5")}}, nil
	}
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	calls   []string
	metas   map[string]map[string]any
	push    func(docID string) (ragclient.Response, error)
	reindex func(ctx context.Context, remoteID string) (ragclient.Response, error)
	del     func(remoteID string) (ragclient.Response, error)
	list    ragclient.Response
	update  func(remoteID string) error
	search  func(in ragclient.SearchRequest) (ragclient.Response, error)
	health  error

	articles  []ragclient.Article
	parsed    ragclient.ParseIssueRequest
	issueResp ragclient.Response
	pdfResp   ragclient.Response
}

func (f *fakeIndexer) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeIndexer) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeIndexer) PushFile(ctx context.Context, in ragclient.FileRequest) (ragclient.Response, error) {
	f.record("push_file:" + in.DocID)
	if f.push != nil {
		return f.push(in.DocID)
	}
	return jsonResponse(`{"ok":true,"status":"PROCESSING"}`), nil
}

func (f *fakeIndexer) PushURL(ctx context.Context, in ragclient.URLRequest) (ragclient.Response, error) {
	f.record("push_url:" + in.URL)
	if f.push != nil {
		return f.push(in.DocID)
	}
	return jsonResponse(`{"ok":true}`), nil
}

func (f *fakeIndexer) Reindex(ctx context.Context, remoteID string) (ragclient.Response, error) {
	f.record("reindex:" + remoteID)
	if f.reindex != nil {
		return f.reindex(ctx, remoteID)
	}
	return jsonResponse(`{"ok":true}`), nil
}

func (f *fakeIndexer) Delete(ctx context.Context, remoteID string) (ragclient.Response, error) {
	f.record("delete:" + remoteID)
	if f.del != nil {
		return f.del(remoteID)
	}
	return ragclient.Response{Status: 404, NotFound: true}, nil
}

func (f *fakeIndexer) Search(ctx context.Context, in ragclient.SearchRequest) (ragclient.Response, error) {
	f.record("search:" + in.Query)
	if f.search != nil {
		return f.search(in)
	}
	return jsonResponse(`{"results":[]}`), nil
}

func (f *fakeIndexer) ListDocuments(ctx context.Context, limit int) (ragclient.Response, error) {
	f.record("list")
	return f.list, nil
}

func (f *fakeIndexer) UpdateMeta(ctx context.Context, remoteID string, meta map[string]any) (ragclient.Response, error) {
	f.record("update_meta:" + remoteID)
	if f.update != nil {
		if err := f.update(remoteID); err != nil {
			return ragclient.Response{}, err
		}
	}
	f.mu.Lock()
	if f.metas == nil {
		f.metas = map[string]map[string]any{}
	}
	f.metas[remoteID] = meta
	f.mu.Unlock()
	return jsonResponse(`{"ok":true}`), nil
}

func (f *fakeIndexer) Health(ctx context.Context) (ragclient.Response, error) {
	f.record("health")
	if f.health != nil {
		return ragclient.Response{}, f.health
	}
	return jsonResponse(`{"status":"ok"}`), nil
}

func (f *fakeIndexer) IngestArticles(ctx context.Context, remoteID string, articles []ragclient.Article) (ragclient.Response, error) {
	f.record("ingest_articles:" + remoteID)
	f.mu.Lock()
	f.articles = articles
	resp := f.issueResp
	f.mu.Unlock()
	return resp, nil
}

func (f *fakeIndexer) ParseIssue(ctx context.Context, in ragclient.ParseIssueRequest) (ragclient.Response, error) {
	f.record("parse_issue:" + in.DocID)
	f.mu.Lock()
	f.parsed = in
	resp := f.issueResp
	f.mu.Unlock()
	return resp, nil
}

func (f *fakeIndexer) ArticlePDF(ctx context.Context, remoteID string, start, end int, fileName string) (ragclient.Response, error) {
	f.record(fmt.Sprintf("article_pdf:%s:%d-%d:%s", remoteID, start, end, fileName))
	return f.pdfResp, nil
}

func jsonResponse(body string) ragclient.Response {
	return ragclient.Response{Status: 200, Body: []byte(body)}
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, idx *fakeIndexer) (*Service, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	svc := &Service{
		Repo:      repo,
		RAG:       idx,
		Validator: safety.NewValidator([]string{"application/pdf", "text/plain", "text/markdown"}, 1<<20, publicResolver{}),
		Now:       func() time.Time { return fixedNow },
	}
	return svc, repo
}

func seedDocument(t *testing.T, repo *MemoryRepo, doc Document) Document {
	t.Helper()
	if doc.Type == "" {
		doc.Type = TypeFile
	}
	if doc.Audience == "" {
		doc.Audience = AudienceBoth
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = fixedNow.Add(-time.Hour)
		doc.UpdatedAt = doc.CreatedAt
	}
	require.NoError(t, repo.Create(context.Background(), doc))
	return doc
}

func textUpload(audience Audience) FileUpload {
	return FileUpload{
		FileName:     "Housing Guide (2024).txt",
		DeclaredMIME: "text/plain; charset=utf-8",
		Data:         []byte("tenant rights and rent assistance"),
		Audience:     audience,
		AdminID:      "admin-1",
	}
}

func TestIngestFileProcessing(t *testing.T) {
	idx := &fakeIndexer{push: func(string) (ragclient.Response, error) {
		return jsonResponse(`{"ok":true,"status":"PROCESSING","remoteId":"remote-1"}`), nil
	}}
	svc, repo := newTestService(t, idx)

	result, err := svc.IngestFile(context.Background(), textUpload(AudienceClient))
	require.NoError(t, err)

	doc := result.Doc
	assert.Equal(t, StatusProcessing, doc.Status)
	assert.Equal(t, "remote-1", doc.RemoteID)
	assert.Equal(t, "Housing_Guide_2024_.txt", doc.FileName)
	assert.Equal(t, doc.FileName, doc.Title)
	assert.Equal(t, "text/plain", doc.MimeType)
	assert.Equal(t, int64(33), doc.FileSize)
	assert.NotEmpty(t, doc.ContentSHA256)
	assert.Equal(t, 5, doc.Metadata["words"])
	assert.Nil(t, doc.InsertedAt)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, stored.Status)
	assert.Equal(t, "remote-1", stored.RemoteID)
	assert.Equal(t, 1, idx.callCount("push_file:"+doc.ID))
}

func TestIngestFileCompletedWhenRemoteReportsInserted(t *testing.T) {
	idx := &fakeIndexer{push: func(string) (ragclient.Response, error) {
		return jsonResponse(`{"ok":true,"inserted":12}`), nil
	}}
	svc, _ := newTestService(t, idx)

	result, err := svc.IngestFile(context.Background(), textUpload(AudienceBoth))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Doc.Status)
	require.NotNil(t, result.Doc.InsertedAt)
	assert.Equal(t, fixedNow, *result.Doc.InsertedAt)
	assert.Equal(t, result.Doc.ID, result.Doc.RemoteID)
}

func TestIngestFileUpstreamFailureMarksFailed(t *testing.T) {
	upstream := &ragclient.Error{Op: ragclient.OpPushFile, Kind: ragclient.KindUpstream, Status: 500, Message: "embedding backend down"}
	idx := &fakeIndexer{push: func(string) (ragclient.Response, error) { return ragclient.Response{}, upstream }}
	svc, repo := newTestService(t, idx)

	result, err := svc.IngestFile(context.Background(), textUpload(AudienceClient))
	require.Error(t, err)
	assert.True(t, errors.Is(err, upstream))
	assert.Equal(t, StatusFailed, result.Doc.Status)
	assert.Equal(t, "embedding backend down", result.Doc.Error)
	assert.Empty(t, result.Doc.RemoteID)

	stored, err := repo.GetByID(context.Background(), result.Doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "embedding backend down", stored.Error)
}

func TestIngestFileRejectsMagicByteMismatch(t *testing.T) {
	idx := &fakeIndexer{}
	svc, repo := newTestService(t, idx)

	in := textUpload(AudienceClient)
	in.FileName = "guide.pdf"
	in.DeclaredMIME = "application/pdf"

	_, err := svc.IngestFile(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, safety.ErrContentMismatch)
	assert.Zero(t, idx.callCount("push_file"))

	docs, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngestStoresCanonicalAudience(t *testing.T) {
	svc, repo := newTestService(t, &fakeIndexer{})
	ctx := context.Background()

	file, err := svc.IngestFile(ctx, textUpload(Audience("client")))
	require.NoError(t, err)
	assert.Equal(t, AudienceClient, file.Doc.Audience)

	page, err := svc.IngestURL(ctx, URLSubmission{URL: "https://docs.example.org/faq", Audience: Audience(" social_worker ")})
	require.NoError(t, err)
	assert.Equal(t, AudienceSocialWorker, page.Doc.Audience)

	stored, err := repo.GetByID(ctx, file.Doc.ID)
	require.NoError(t, err)
	assert.Equal(t, AudienceClient, stored.Audience)
}

func TestIngestFileRequiresAudience(t *testing.T) {
	svc, _ := newTestService(t, &fakeIndexer{})

	_, err := svc.IngestFile(context.Background(), textUpload(""))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIngestFileArchivesOriginal(t *testing.T) {
	svc, _ := newTestService(t, &fakeIndexer{})
	svc.Store = local.New(t.TempDir())
	svc.Archive = true

	result, err := svc.IngestFile(context.Background(), textUpload(AudienceClient))
	require.NoError(t, err)
	assert.Equal(t, "documents/"+result.Doc.ID+"/Housing_Guide_2024_.txt", result.Doc.StorageKey)

	rc, doc, err := svc.OpenOriginal(context.Background(), result.Doc.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "tenant rights and rent assistance", string(body))
	assert.Equal(t, result.Doc.ID, doc.ID)
}

func TestIngestURLRejectsPrivateTargets(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx)

	for _, raw := range []string{
		"http://127.0.0.1/admin",
		"http://10.0.0.5/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"https://internal.example/wiki",
	} {
		_, err := svc.IngestURL(context.Background(), URLSubmission{URL: raw, Audience: AudienceClient})
		assert.ErrorIs(t, err, safety.ErrPrivateAddress, raw)
	}
	assert.Zero(t, idx.callCount("push_url"))
}

func TestIngestURLDefaultsTitleToURL(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx)

	result, err := svc.IngestURL(context.Background(), URLSubmission{
		URL:      "https://benefits.example.org/snap#apply",
		Audience: AudienceSocialWorker,
		Metadata: map[string]any{"tags": []string{"food"}},
	})
	require.NoError(t, err)
	assert.Equal(t, TypeURL, result.Doc.Type)
	assert.Equal(t, "https://benefits.example.org/snap", result.Doc.SourceURL)
	assert.Equal(t, "https://benefits.example.org/snap", result.Doc.Title)
	assert.Equal(t, StatusProcessing, result.Doc.Status)
	assert.Equal(t, 1, idx.callCount("push_url:https://benefits.example.org/snap"))
}

func TestReindexClearsErrorBeforeCallingRemote(t *testing.T) {
	var repo *MemoryRepo
	var seen Document
	idx := &fakeIndexer{reindex: func(ctx context.Context, remoteID string) (ragclient.Response, error) {
		var err error
		seen, err = repo.GetByID(ctx, "doc-failed-1")
		require.NoError(t, err)
		return ragclient.Response{}, &ragclient.Error{Op: ragclient.OpReindex, Kind: ragclient.KindTimeout, Message: "RAG request timed out"}
	}}
	svc, r := newTestService(t, idx)
	repo = r
	seedDocument(t, repo, Document{ID: "doc-failed-1", RemoteID: "remote-9", Status: StatusFailed, Error: "old failure"})

	result, err := svc.Reindex(context.Background(), "doc-failed-1")
	require.Error(t, err)
	assert.True(t, ragclient.IsKind(err, ragclient.KindTimeout))

	assert.Equal(t, StatusProcessing, seen.Status)
	assert.Empty(t, seen.Error)
	assert.Equal(t, 1, idx.callCount("reindex:remote-9"))

	assert.Equal(t, StatusFailed, result.Doc.Status)
	assert.Equal(t, "RAG request timed out", result.Doc.Error)
	stored, err := repo.GetByID(context.Background(), "doc-failed-1")
	require.NoError(t, err)
	assert.Equal(t, "RAG request timed out", stored.Error)
}

func TestReindexInsertedCounts(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Status
	}{
		{name: "positive", body: `{"ok":true,"inserted":4}`, want: StatusCompleted},
		{name: "zero", body: `{"ok":true,"inserted":0}`, want: StatusProcessing},
		{name: "missing", body: `{"ok":true}`, want: StatusProcessing},
		{name: "status completed without count", body: `{"status":"COMPLETED","remoteId":"doc-complete-1"}`, want: StatusCompleted},
		{name: "status processing with zero", body: `{"status":"PROCESSING","inserted":0}`, want: StatusProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &fakeIndexer{reindex: func(context.Context, string) (ragclient.Response, error) {
				return jsonResponse(tt.body), nil
			}}
			svc, repo := newTestService(t, idx)
			seedDocument(t, repo, Document{ID: "doc-complete-1", Status: StatusCompleted})

			result, err := svc.Reindex(context.Background(), "doc-complete-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Doc.Status)
			assert.Equal(t, tt.want == StatusCompleted, result.Doc.InsertedAt != nil)
			assert.Equal(t, 1, idx.callCount("reindex:doc-complete-1"))
		})
	}
}

func TestReindexSettlesStatusAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	idx := &fakeIndexer{reindex: func(context.Context, string) (ragclient.Response, error) {
		cancel()
		return ragclient.Response{}, &ragclient.Error{Op: ragclient.OpReindex, Kind: ragclient.KindCanceled, Message: "request canceled"}
	}}
	svc, repo := newTestService(t, idx)
	seedDocument(t, repo, Document{ID: "doc-cancel-1", Status: StatusCompleted})

	_, err := svc.Reindex(ctx, "doc-cancel-1")
	require.Error(t, err)

	stored, err := repo.GetByID(context.Background(), "doc-cancel-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "request canceled", stored.Error)
}

func TestReindexUnknownDocument(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx)

	_, err := svc.Reindex(context.Background(), "missing-document")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, idx.callCount("reindex"))
}

func TestDeleteIsIdempotent(t *testing.T) {
	idx := &fakeIndexer{}
	calls := 0
	idx.del = func(string) (ragclient.Response, error) {
		calls++
		if calls == 1 {
			return jsonResponse(`{"ok":true}`), nil
		}
		return ragclient.Response{Status: 404, NotFound: true}, nil
	}
	svc, repo := newTestService(t, idx)
	seedDocument(t, repo, Document{ID: "doc-delete-1", RemoteID: "remote-delete-1", Status: StatusCompleted})

	first, err := svc.Delete(context.Background(), "doc-delete-1")
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Deleted: 1, HadLocal: true}, first)
	assert.Equal(t, 1, idx.callCount("delete:remote-delete-1"))

	second, err := svc.Delete(context.Background(), "doc-delete-1")
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{RemoteMissing: true}, second)

	_, err = repo.GetByID(context.Background(), "doc-delete-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteByRemoteID(t *testing.T) {
	idx := &fakeIndexer{}
	svc, repo := newTestService(t, idx)
	seedDocument(t, repo, Document{ID: "doc-local-7", RemoteID: "remote-7", Status: StatusCompleted})

	result, err := svc.Delete(context.Background(), "remote-7")
	require.NoError(t, err)
	assert.True(t, result.HadLocal)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, idx.callCount("delete:remote-7"))
}

func TestDeleteUpstreamFailureKeepsLocal(t *testing.T) {
	idx := &fakeIndexer{del: func(string) (ragclient.Response, error) {
		return ragclient.Response{}, &ragclient.Error{Op: ragclient.OpDelete, Kind: ragclient.KindUpstream, Status: 500, Message: "boom"}
	}}
	svc, repo := newTestService(t, idx)
	seedDocument(t, repo, Document{ID: "doc-keep-1", Status: StatusCompleted})

	_, err := svc.Delete(context.Background(), "doc-keep-1")
	require.Error(t, err)

	stored, err := repo.GetByID(context.Background(), "doc-keep-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestDeleteRemovesArchivedOriginal(t *testing.T) {
	svc, _ := newTestService(t, &fakeIndexer{})
	svc.Store = local.New(t.TempDir())
	svc.Archive = true

	result, err := svc.IngestFile(context.Background(), textUpload(AudienceClient))
	require.NoError(t, err)

	_, err = svc.Delete(context.Background(), result.Doc.ID)
	require.NoError(t, err)

	_, err = svc.Store.Open(context.Background(), result.Doc.StorageKey)
	assert.Error(t, err)
}

func TestSearchRequiresQuery(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx)

	_, err := svc.Search(context.Background(), "   ", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	resp, err := svc.Search(context.Background(), "eviction help", 0, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, string(resp.Body))
}

func TestListExcludesDeleted(t *testing.T) {
	svc, repo := newTestService(t, &fakeIndexer{})
	seedDocument(t, repo, Document{ID: "doc-live-01", Status: StatusCompleted})
	seedDocument(t, repo, Document{ID: "doc-gone-01", Status: StatusCompleted})
	_, err := repo.Delete(context.Background(), "doc-gone-01")
	require.NoError(t, err)

	docs, err := svc.List(context.Background(), ListFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-live-01", docs[0].ID)
}
