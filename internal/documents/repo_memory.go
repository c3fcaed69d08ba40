package documents

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Document
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string]Document),
		now:  time.Now,
	}
}

// Create stores a new document. IDs must be unique.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[doc.ID]; exists {
		return invalidInput("document %s already exists", doc.ID)
	}
	r.data[doc.ID] = clone(doc)
	return nil
}

// GetByID returns a live document by local ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[id]
	if !ok || !live(doc) {
		return Document{}, ErrNotFound
	}
	return clone(doc), nil
}

// FindByIDOrRemoteID returns a live document whose local or remote ID matches.
func (r *MemoryRepo) FindByIDOrRemoteID(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if doc, ok := r.data[id]; ok && live(doc) {
		return clone(doc), nil
	}
	for _, doc := range r.data {
		if live(doc) && doc.RemoteID == id {
			return clone(doc), nil
		}
	}
	return Document{}, ErrNotFound
}

// Update replaces the lifecycle fields of a live document.
func (r *MemoryRepo) Update(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.data[doc.ID]
	if !ok || !live(current) {
		return ErrNotFound
	}
	current.Status = doc.Status
	current.Error = doc.Error
	current.RemoteID = doc.RemoteID
	current.InsertedAt = doc.InsertedAt
	current.StorageKey = doc.StorageKey
	current.Metadata = maps.Clone(doc.Metadata)
	current.UpdatedAt = doc.UpdatedAt
	r.data[doc.ID] = current
	return nil
}

// Delete soft-deletes live documents matching id by local or remote ID.
func (r *MemoryRepo) Delete(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	n := 0
	for key, doc := range r.data {
		if !live(doc) || (doc.ID != id && doc.RemoteID != id) {
			continue
		}
		doc.Status = StatusDeleted
		doc.DeletedAt = &now
		doc.UpdatedAt = now
		r.data[key] = doc
		n++
	}
	return n, nil
}

// List returns live documents newest first.
func (r *MemoryRepo) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Document, 0)
	for _, doc := range r.data {
		if !live(doc) {
			continue
		}
		if filter.Audience != "" && doc.Audience != filter.Audience {
			continue
		}
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		out = append(out, clone(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := ClampLimit(filter.Limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListAll returns every live document oldest first.
func (r *MemoryRepo) ListAll(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Document, 0, len(r.data))
	for _, doc := range r.data {
		if live(doc) {
			out = append(out, clone(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func live(doc Document) bool {
	return doc.DeletedAt == nil && doc.Status != StatusDeleted
}

func clone(doc Document) Document {
	doc.Metadata = maps.Clone(doc.Metadata)
	return doc
}

var _ Repo = (*MemoryRepo)(nil)
