package documents

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoArchive         = errors.New("original file not archived")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
