package sessions

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors for session operations.
var (
	ErrNotFound                = errors.New("session not found")
	ErrDuplicateClassification = errors.New("session already classified")
	ErrConflictingExtraction   = errors.New("conflicting extraction result for agent")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrSessionTerminal         = errors.New("session is terminal")
	ErrPayloadUnavailable      = errors.New("raw payload not retained by this store")
)

// StorageError wraps a backend failure. Transient failures are retried by
// the retrying store decorator; permanent ones surface immediately.
type StorageError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient
}

// MapHTTPStatus maps session domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPayloadUnavailable) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicateClassification) ||
		errors.Is(err, ErrConflictingExtraction) ||
		errors.Is(err, ErrSessionTerminal) ||
		errors.Is(err, ErrInvalidTransition) {
		return http.StatusConflict
	}
	var se *StorageError
	if errors.As(err, &se) && se.Transient {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
