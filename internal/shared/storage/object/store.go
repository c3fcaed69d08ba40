package object

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by Open when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// ObjectStore defines the contract for archiving and retrieving binary objects.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, r io.Reader) (sizeBytes int64, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ArchiveKey builds the storage key for a document's original upload.
// fileName is expected to be sanitized already.
func ArchiveKey(docID, fileName string) string {
	return path.Join("documents", docID, fileName)
}

// ValidKey rejects empty, absolute and traversing keys.
func ValidKey(key string) bool {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
