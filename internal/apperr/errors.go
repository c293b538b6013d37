// Package apperr defines the error taxonomy shared by the store client,
// the index synchronizer and the editor session.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks a missing path. It is expected control flow
	// (e.g. "no index yet") and callers usually handle it locally.
	ErrNotFound = errors.New("not found")
	// ErrConflict matches every *ConflictError via errors.Is.
	ErrConflict = errors.New("conflict")
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrSetupRequired is returned when no store credential is configured.
	ErrSetupRequired = errors.New("github token not configured")
	// ErrBusy is returned when a session action is already in flight.
	ErrBusy = errors.New("another action is in progress")
)

// ConflictError reports a stale or missing content hash on write.
type ConflictError struct {
	Path    string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("conflict: %s was changed by someone else", e.Path)
	}
	return fmt.Sprintf("conflict: %s: %s", e.Path, e.Message)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NewConflict creates a ConflictError for path.
func NewConflict(path, msg string) *ConflictError {
	return &ConflictError{Path: path, Message: msg}
}

// ValidationError is a local precondition failure, raised before any
// network call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidation creates a ValidationError.
func NewValidation(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// StoreError is any other non-2xx response from the content store. Message
// is the store's own error text when it sent one.
type StoreError struct {
	Op      string
	Path    string
	Status  int
	Message string
}

func (e *StoreError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s: %d", e.Op, e.Path, e.Status)
}

// HTTPStatus maps an error onto the status code the REST API answers with.
func HTTPStatus(err error) int {
	var se *StoreError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrSetupRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, ErrBusy):
		return http.StatusLocked
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
