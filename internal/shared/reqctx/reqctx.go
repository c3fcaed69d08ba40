// Package reqctx carries per-request values on a context.Context so that
// code below the HTTP layer can read them without importing gin.
package reqctx

import (
	"context"

	"rag-ingest-backend/internal/shared/auth"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	principalKey ctxKey = "principal"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context. Returns "" if absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithPrincipal stores the authenticated caller in the context.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Principal extracts the authenticated caller. ok is false when no identity is present.
func Principal(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	if !ok || p.UserID == "" {
		return auth.Principal{}, false
	}
	return p, true
}
