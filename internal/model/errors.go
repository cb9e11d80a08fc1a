package model

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain error wraps exactly one of these so callers can
// classify failures with errors.Is without knowing the specific sentinel.
var (
	// ErrValidation: malformed, oversized or missing input. The client must correct it.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound: the referenced entity does not exist. Not retryable.
	ErrNotFound = errors.New("not found")

	// ErrForbidden: the actor does not own the target. Not retryable.
	ErrForbidden = errors.New("forbidden")

	// ErrTransientStorage: the store timed out or is unreachable. Safe to retry with backoff.
	ErrTransientStorage = errors.New("storage temporarily unavailable")
)

// ErrInvalidID is returned when an identifier is not a well-formed UUID.
var ErrInvalidID = fmt.Errorf("invalid id: %w", ErrValidation)

// Kind returns the error kind wrapped by err, or nil if it is unclassified.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrForbidden, ErrTransientStorage} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
