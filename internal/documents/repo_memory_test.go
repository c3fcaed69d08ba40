package documents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepoSoftDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, Document{ID: "doc-a", RemoteID: "remote-a", Status: StatusCompleted, CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, Document{ID: "doc-b", Status: StatusProcessing, CreatedAt: base.Add(time.Minute)}))

	n, err := repo.Delete(ctx, "remote-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.GetByID(ctx, "doc-a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindByIDOrRemoteID(ctx, "remote-a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, Document{ID: "doc-a", Status: StatusProcessing}), ErrNotFound)

	n, err = repo.Delete(ctx, "doc-a")
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "doc-b", all[0].ID)
}

func TestMemoryRepoListFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, doc := range []Document{
		{ID: "doc-1", Type: TypeFile, Audience: AudienceClient, Status: StatusCompleted},
		{ID: "doc-2", Type: TypeURL, Audience: AudienceClient, Status: StatusFailed},
		{ID: "doc-3", Type: TypeFile, Audience: AudienceSocialWorker, Status: StatusCompleted},
	} {
		doc.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Create(ctx, doc))
	}

	docs, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "doc-3", docs[0].ID)
	assert.Equal(t, "doc-1", docs[2].ID)

	docs, err = repo.List(ctx, ListFilter{Audience: AudienceClient, Type: TypeFile})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)

	docs, err = repo.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestMemoryRepoReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	require.NoError(t, repo.Create(ctx, Document{ID: "doc-copy", Metadata: map[string]any{"pages": 2}}))

	doc, err := repo.GetByID(ctx, "doc-copy")
	require.NoError(t, err)
	doc.Metadata["pages"] = 99

	again, err := repo.GetByID(ctx, "doc-copy")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Metadata["pages"])
}

func TestMemoryRepoRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	require.NoError(t, repo.Create(ctx, Document{ID: "doc-dup"}))
	assert.ErrorIs(t, repo.Create(ctx, Document{ID: "doc-dup"}), ErrInvalidInput)
}
