package http

import (
	"fmt"
	"net/http"
)

// AppError is the wire shape of a failure surfaced by the status API —
// health/readiness checks and the stream-status listing.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an application error.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Field:   field,
		Status:  status,
		Params:  make(map[string]interface{}),
	}
}

// WithError wraps an underlying error for logging, without exposing it on
// the wire (Err is json:"-").
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// Status-generic constructors: these map straight to an HTTP code with no
// domain-specific diagnosis attached.

// BadRequestError creates a 400 error.
func BadRequestError(message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", "", message, http.StatusBadRequest)
}

// BadRequestErrorf creates a 400 error with formatting.
func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return BadRequestError(fmt.Sprintf(format, a...))
}

// InternalError creates a 500 error.
func InternalError(message string) *AppError {
	return NewAppError("ERR_INTERNAL", "", message, http.StatusInternalServerError)
}

// InternalErrorf creates a 500 error with formatting.
func InternalErrorf(format string, a ...interface{}) *AppError {
	return InternalError(fmt.Sprintf(format, a...))
}

// Domain-specific constructors: these surface the freshness engine's own
// error taxonomy (internal/domain/errs) instead of a generic status text,
// so an operator hitting /streams/:id can tell a missing manifest apart
// from a store outage.

// StreamNotFoundError reports that no live manifest exists for the
// requested stream id (errs.ErrNotFound).
func StreamNotFoundError(id int64) *AppError {
	return NewAppError("ERR_STREAM_NOT_FOUND", "id", fmt.Sprintf("stream %d not found", id), http.StatusNotFound)
}

// StoreUnavailableError reports that the manifest store failed a readiness
// probe.
func StoreUnavailableError(err error) *AppError {
	return NewAppError("ERR_STORE_UNAVAILABLE", "", "manifest store unavailable", http.StatusServiceUnavailable).WithError(err)
}
