package store

import (
	"fmt"

	domainerrors "github.com/kchartio/kchart/internal/errors"
)

// Error is a persistence failure. Kind is the API error code it surfaces as
// when a service lets it escape unwrapped.
type Error struct {
	Kind    domainerrors.Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, so a sentinel carrying a driver cause still compares
// equal to the bare sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// WithCause returns a copy of e wrapping the driver error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Err: err}
}

var (
	// ErrNotFound is returned by every Get/Find method for unknown keys.
	ErrNotFound = &Error{Kind: domainerrors.CodeNotFound, Message: "record not found"}

	// ErrAlreadyExists is returned when a unique constraint rejects a write.
	// Writers treat it as a lost compare-and-swap, not a failure.
	ErrAlreadyExists = &Error{Kind: domainerrors.CodeConflict, Message: "record already exists"}

	// ErrInvalidInput rejects arguments the schema cannot represent.
	ErrInvalidInput = &Error{Kind: domainerrors.CodeValidation, Message: "invalid record"}
)
