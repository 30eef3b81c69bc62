package store

import (
	"errors"
	"fmt"
)

// Common store errors.
var (
	// ErrNotFound indicates the requested game does not exist.
	ErrNotFound = errors.New("game not found")

	// ErrStoreUnavailable indicates a transient problem reaching the
	// backing store. Writes failing with it are retried.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidTitle indicates an empty title after normalization.
	ErrInvalidTitle = errors.New("invalid title")
)

// NotFoundError wraps ErrNotFound with the missing title.
type NotFoundError struct {
	Title string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("game not found: %q", e.Title)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a typed not found error.
func NewNotFoundError(title string) error {
	return &NotFoundError{Title: title}
}

// UnavailableError wraps a backend error classified as transient.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Unavailable marks err from backend as transient.
func Unavailable(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Backend: backend, Err: err}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable checks if an error is a transient store error.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
