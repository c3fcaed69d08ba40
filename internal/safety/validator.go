// Package safety validates untrusted uploads and URLs before they reach the indexing service.
package safety

import (
	"context"
	"net"
	"strings"
)

// Resolver looks up the addresses of a host. net.DefaultResolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Validator holds the ingestion policy.
type Validator struct {
	MaxBytes int64
	Resolver Resolver

	allowed map[string]struct{}
}

// NewValidator builds a validator for the given MIME allow-list and size ceiling.
func NewValidator(allowedMIME []string, maxBytes int64, resolver Resolver) *Validator {
	allowed := make(map[string]struct{}, len(allowedMIME))
	for _, m := range allowedMIME {
		if n := NormalizeMIME(m); n != "" {
			allowed[n] = struct{}{}
		}
	}
	return &Validator{MaxBytes: maxBytes, Resolver: resolver, allowed: allowed}
}

// Allows reports whether mimeType is on the allow-list.
func (v *Validator) Allows(mimeType string) bool {
	_, ok := v.allowed[NormalizeMIME(mimeType)]
	return ok && strings.TrimSpace(mimeType) != ""
}
