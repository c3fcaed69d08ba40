package safety

import (
	"errors"
	"net/http"
)

// Validation failure kinds. Each *Error unwraps to exactly one of these.
var (
	ErrEmptyFile        = errors.New("empty file")
	ErrTooLarge         = errors.New("file too large")
	ErrUnsupportedType  = errors.New("unsupported mime type")
	ErrContentMismatch  = errors.New("content does not match declared type")
	ErrInvalidURL       = errors.New("invalid url")
	ErrPrivateAddress   = errors.New("private or loopback address")
	ErrUnresolvableHost = errors.New("host could not be resolved")
)

// Error is a validation failure with the HTTP status and code the API reports for it.
type Error struct {
	Kind    error
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, message string) *Error {
	e := &Error{Kind: kind, Message: message, Status: http.StatusBadRequest}
	switch kind {
	case ErrEmptyFile:
		e.Code = "EMPTY_FILE"
	case ErrTooLarge:
		e.Status, e.Code = http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"
	case ErrUnsupportedType:
		e.Status, e.Code = http.StatusUnsupportedMediaType, "UNSUPPORTED_MIME"
	case ErrContentMismatch:
		e.Status, e.Code = http.StatusUnsupportedMediaType, "CONTENT_MISMATCH"
	case ErrInvalidURL:
		e.Code = "INVALID_URL"
	case ErrPrivateAddress:
		e.Code = "PRIVATE_ADDRESS"
	case ErrUnresolvableHost:
		e.Code = "UNRESOLVABLE_HOST"
	default:
		e.Code = "VALIDATION_ERROR"
	}
	return e
}
