package documents

import "context"

// Repo defines persistence operations for documents.
// Reads never return soft-deleted records.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, id string) (Document, error)
	// FindByIDOrRemoteID matches either the local ID or the indexing service ID.
	FindByIDOrRemoteID(ctx context.Context, id string) (Document, error)
	// Update persists the mutable lifecycle fields. ErrNotFound if the record is gone.
	Update(ctx context.Context, doc Document) error
	// Delete soft-deletes every live record whose ID or RemoteID matches and returns how many.
	Delete(ctx context.Context, id string) (int, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	// ListAll returns every live record, oldest first.
	ListAll(ctx context.Context) ([]Document, error)
}
