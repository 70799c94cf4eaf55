package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups for objects, cohorts, or linked files that do
// not exist in the catalog.
var ErrNotFound = errors.New("not found")

// StatusError carries an HTTP status alongside a message so that operations
// can return (body, status) pairs without throwing across the API boundary.
type StatusError struct {
	Code    int    `json:"status_code"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// NewStatusError creates a StatusError with a formatted message.
func NewStatusError(code int, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StatusOf maps an error to its HTTP status, defaulting to 500. A nil error
// maps to 200.
func StatusOf(err error) int {
	if err == nil {
		return 200
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, ErrNotFound) {
		return 404
	}
	return 500
}
