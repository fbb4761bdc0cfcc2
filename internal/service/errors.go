// Package service implements the room chat business logic on top of the
// store: snapshot, history and poll reads, message writes, and the ephemeral
// presence/typing tracker.
package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed service failure carried to the HTTP envelope. StatusCode
// doubles as the retryability signal for clients: >= 500 is retryable for
// idempotent reads, everything else is terminal.
type Error struct {
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

const (
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeNotParticipant = "NOT_PARTICIPANT"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeValidation     = "VALIDATION_ERROR"
	CodeWriteConflict  = "WRITE_CONFLICT"
	CodeInternal       = "INTERNAL_ERROR"
)

func ErrUnauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, StatusCode: http.StatusUnauthorized, Message: msg}
}

func ErrNotParticipant() *Error {
	return &Error{Code: CodeNotParticipant, StatusCode: http.StatusForbidden, Message: "not a participant of this room"}
}

func ErrForbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, StatusCode: http.StatusForbidden, Message: msg}
}

func ErrNotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, StatusCode: http.StatusNotFound, Message: msg}
}

func ErrValidation(msg string) *Error {
	return &Error{Code: CodeValidation, StatusCode: http.StatusBadRequest, Message: msg}
}

func ErrWriteConflict() *Error {
	return &Error{Code: CodeWriteConflict, StatusCode: http.StatusInternalServerError, Message: "concurrent write conflict, retry"}
}

func ErrInternal(err error) *Error {
	return &Error{Code: CodeInternal, StatusCode: http.StatusInternalServerError, Message: err.Error()}
}

// AsError extracts a typed service error, wrapping anything else as internal.
func AsError(err error) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	return ErrInternal(err)
}
