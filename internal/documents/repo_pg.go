package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const documentColumns = `id, type, status, audience, title, description, file_name, mime_type, file_size,
source_url, content_sha256, storage_key, remote_id, error, inserted_at, admin_id, metadata,
created_at, updated_at, deleted_at`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO rag_documents (
    id, type, status, audience, title, description, file_name, mime_type, file_size,
    source_url, content_sha256, storage_key, remote_id, error, inserted_at, admin_id, metadata,
    created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		string(doc.Type),
		string(doc.Status),
		string(doc.Audience),
		doc.Title,
		nullString(doc.Description),
		nullString(doc.FileName),
		nullString(doc.MimeType),
		nullInt64(doc.FileSize),
		nullString(doc.SourceURL),
		nullString(doc.ContentSHA256),
		nullString(doc.StorageKey),
		nullString(doc.RemoteID),
		nullString(doc.Error),
		nullTime(doc.InsertedAt),
		doc.AdminID,
		meta,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetByID returns a live document by local ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM rag_documents
WHERE id = $1 AND deleted_at IS NULL AND status <> 'DELETED'`
	return scanDocument(r.DB.QueryRowContext(ctx, query, id))
}

// FindByIDOrRemoteID returns a live document whose local or remote ID matches,
// preferring a local ID match.
func (r *PGRepo) FindByIDOrRemoteID(ctx context.Context, id string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM rag_documents
WHERE (id = $1 OR remote_id = $1) AND deleted_at IS NULL AND status <> 'DELETED'
ORDER BY (id = $1) DESC, created_at DESC
LIMIT 1`
	return scanDocument(r.DB.QueryRowContext(ctx, query, id))
}

// Update persists the lifecycle fields of a live document.
func (r *PGRepo) Update(ctx context.Context, doc Document) error {
	const query = `
UPDATE rag_documents
SET status = $2,
    error = $3,
    remote_id = $4,
    inserted_at = $5,
    storage_key = $6,
    metadata = $7,
    updated_at = $8
WHERE id = $1 AND deleted_at IS NULL`

	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		string(doc.Status),
		nullString(doc.Error),
		nullString(doc.RemoteID),
		nullTime(doc.InsertedAt),
		nullString(doc.StorageKey),
		meta,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes live documents matching id by local or remote ID.
func (r *PGRepo) Delete(ctx context.Context, id string) (int, error) {
	const query = `
UPDATE rag_documents
SET status = 'DELETED', deleted_at = now(), updated_at = now()
WHERE (id = $1 OR remote_id = $1) AND deleted_at IS NULL`

	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete document rows: %w", err)
	}
	return int(affected), nil
}

// List returns live documents newest first, applying optional filters.
func (r *PGRepo) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	qb := psql.Select(documentColumns).
		From("rag_documents").
		Where("deleted_at IS NULL").
		Where(sq.NotEq{"status": string(StatusDeleted)})
	if filter.Audience != "" {
		qb = qb.Where(sq.Eq{"audience": string(filter.Audience)})
	}
	if filter.Type != "" {
		qb = qb.Where(sq.Eq{"type": string(filter.Type)})
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Eq{"status": string(filter.Status)})
	}
	qb = qb.OrderBy("created_at DESC", "id DESC").Limit(uint64(ClampLimit(filter.Limit)))

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	return r.queryDocuments(ctx, query, args...)
}

// ListAll returns every live document oldest first.
func (r *PGRepo) ListAll(ctx context.Context) ([]Document, error) {
	query, args, err := psql.Select(documentColumns).
		From("rag_documents").
		Where("deleted_at IS NULL").
		Where(sq.NotEq{"status": string(StatusDeleted)}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	return r.queryDocuments(ctx, query, args...)
}

func (r *PGRepo) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc         Document
		docType     string
		status      string
		audience    string
		description sql.NullString
		fileName    sql.NullString
		mimeType    sql.NullString
		fileSize    sql.NullInt64
		sourceURL   sql.NullString
		sha         sql.NullString
		storageKey  sql.NullString
		remoteID    sql.NullString
		errMsg      sql.NullString
		insertedAt  sql.NullTime
		metadata    []byte
		deletedAt   sql.NullTime
	)
	err := row.Scan(
		&doc.ID,
		&docType,
		&status,
		&audience,
		&doc.Title,
		&description,
		&fileName,
		&mimeType,
		&fileSize,
		&sourceURL,
		&sha,
		&storageKey,
		&remoteID,
		&errMsg,
		&insertedAt,
		&doc.AdminID,
		&metadata,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("scan document: %w", err)
	}

	doc.Type = Type(docType)
	doc.Status = Status(status)
	doc.Audience = Audience(audience)
	doc.Description = description.String
	doc.FileName = fileName.String
	doc.MimeType = mimeType.String
	doc.FileSize = fileSize.Int64
	doc.SourceURL = sourceURL.String
	doc.ContentSHA256 = sha.String
	doc.StorageKey = storageKey.String
	doc.RemoteID = remoteID.String
	doc.Error = errMsg.String
	if insertedAt.Valid {
		t := insertedAt.Time
		doc.InsertedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		doc.DeletedAt = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return Document{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return doc, nil
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n > 0}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
