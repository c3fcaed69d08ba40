package documents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest-backend/internal/ragclient"
)

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status string
		errMsg string
		chunks int
		want   Status
	}{
		{name: "lower-case failed", status: "failed", chunks: 10, want: StatusFailed},
		{name: "explicit status wins", status: "processing", errMsg: "boom", chunks: 3, want: StatusProcessing},
		{name: "error means failed", errMsg: "embedding failed", chunks: 3, want: StatusFailed},
		{name: "chunks mean completed", chunks: 12, want: StatusCompleted},
		{name: "unknown status falls through", status: "queued", want: StatusPending},
		{name: "nothing known", want: StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.status, tt.errMsg, tt.chunks))
		})
	}
}

func TestRemoteDocumentsReadsAlternateIDKeys(t *testing.T) {
	idx := &fakeIndexer{list: jsonResponse(`{"docs":[
		{"docId":"a","title":"A","chunks":4},
		{"doc_id":"b","error":"parse error"},
		{"id":"c","status":"PENDING"}
	]}`)}
	svc, _ := newTestService(t, idx)

	docs, err := svc.RemoteDocuments(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, StatusCompleted, docs[0].Status)
	assert.Equal(t, 4, docs[0].Chunks)
	assert.Equal(t, "b", docs[1].ID)
	assert.Equal(t, StatusFailed, docs[1].Status)
	assert.Equal(t, "c", docs[2].ID)
	assert.Equal(t, StatusPending, docs[2].Status)
}

func TestSyncMetaPushesLiveIndexedDocuments(t *testing.T) {
	idx := &fakeIndexer{update: func(remoteID string) error {
		if remoteID == "remote-bad" {
			return &ragclient.Error{Op: ragclient.OpUpdateMeta, Kind: ragclient.KindUpstream, Status: 500, Message: "boom"}
		}
		return nil
	}}
	svc, repo := newTestService(t, idx)

	seedDocument(t, repo, Document{ID: "doc-00001", RemoteID: "remote-1", Status: StatusCompleted, Title: "Rent help",
		Audience: AudienceClient, Metadata: map[string]any{"tags": []string{"housing"}}})
	seedDocument(t, repo, Document{ID: "doc-00002", RemoteID: "remote-bad", Status: StatusCompleted, Title: "Broken"})
	seedDocument(t, repo, Document{ID: "doc-00003", Status: StatusPending, Title: "Never pushed"})
	seedDocument(t, repo, Document{ID: "doc-00004", RemoteID: "remote-4", Status: StatusFailed, Title: "Failed"})

	report, err := svc.SyncMeta(context.Background(), SyncOptions{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, SyncReport{Updated: 1, Failed: 1, Skipped: 2}, report)

	idx.mu.Lock()
	meta := idx.metas["remote-1"]
	idx.mu.Unlock()
	require.NotNil(t, meta)
	assert.Equal(t, "Rent help", meta["title"])
	assert.Equal(t, "CLIENT", meta["audience"])
	assert.Equal(t, []string{"housing"}, meta["tags"])
}

func TestSyncMetaDryRunMakesNoCalls(t *testing.T) {
	idx := &fakeIndexer{}
	svc, repo := newTestService(t, idx)
	seedDocument(t, repo, Document{ID: "doc-00001", RemoteID: "remote-1", Status: StatusCompleted})

	report, err := svc.SyncMeta(context.Background(), SyncOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, idx.callCount("update_meta:"))
}

func TestReconcileSettlesProcessingDocuments(t *testing.T) {
	idx := &fakeIndexer{list: jsonResponse(`[
		{"docId":"remote-done","chunks":8},
		{"docId":"remote-bad","error":"could not parse"},
		{"docId":"remote-slow","status":"PROCESSING"},
		{"docId":"doc-00005","status":"FAILED"}
	]`)}
	svc, repo := newTestService(t, idx)

	seedDocument(t, repo, Document{ID: "doc-00001", RemoteID: "remote-done", Status: StatusProcessing})
	seedDocument(t, repo, Document{ID: "doc-00002", RemoteID: "remote-bad", Status: StatusProcessing})
	seedDocument(t, repo, Document{ID: "doc-00003", RemoteID: "remote-slow", Status: StatusProcessing})
	seedDocument(t, repo, Document{ID: "doc-00004", RemoteID: "remote-gone", Status: StatusProcessing})
	seedDocument(t, repo, Document{ID: "doc-00005", Status: StatusCompleted})

	report, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Completed: 1, Failed: 1, Unchanged: 2}, report)

	ctx := context.Background()
	done, err := repo.GetByID(ctx, "doc-00001")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.InsertedAt)
	assert.True(t, done.InsertedAt.Equal(fixedNow))

	bad, err := repo.GetByID(ctx, "doc-00002")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, bad.Status)
	assert.Equal(t, "could not parse", bad.Error)

	untouched, err := repo.GetByID(ctx, "doc-00005")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, untouched.Status)
}

func TestOpenOriginalWithoutArchive(t *testing.T) {
	svc, repo := newTestService(t, &fakeIndexer{})
	seedDocument(t, repo, Document{ID: "doc-00001", Status: StatusCompleted})

	_, _, err := svc.OpenOriginal(context.Background(), "doc-00001")
	assert.ErrorIs(t, err, ErrNoArchive)

	_, _, err = svc.OpenOriginal(context.Background(), "doc-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
