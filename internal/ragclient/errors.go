package ragclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed call to the indexing service.
type Kind string

const (
	KindConfig          Kind = "config"
	KindTimeout         Kind = "timeout"
	KindConnection      Kind = "connection"
	KindCanceled        Kind = "canceled"
	KindUpstream        Kind = "upstream"
	KindInvalidResponse Kind = "invalid_response"
)

// Error is the failure side of every client call.
type Error struct {
	Op       string
	Kind     Kind
	Status   int
	Message  string
	Payload  json.RawMessage
	Raw      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("rag %s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("rag %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status this service should answer with when the call fails.
// Upstream 413 and 415 pass through; other upstream problems become 502.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindConfig:
		return http.StatusInternalServerError
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCanceled:
		return http.StatusServiceUnavailable
	case KindUpstream:
		if e.Status == http.StatusRequestEntityTooLarge || e.Status == http.StatusUnsupportedMediaType {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// Code is the machine-readable error code exposed to API callers.
func (e *Error) Code() string {
	switch e.Kind {
	case KindConfig:
		return "RAG_NOT_CONFIGURED"
	case KindTimeout:
		return "RAG_TIMEOUT"
	case KindConnection, KindCanceled:
		return "RAG_UNAVAILABLE"
	case KindInvalidResponse:
		return "RAG_INVALID_RESPONSE"
	default:
		return "RAG_ERROR"
	}
}

// AsError extracts a client failure from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a client failure of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}
