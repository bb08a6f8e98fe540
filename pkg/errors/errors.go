// Package errors defines the application error type carried from services
// to the HTTP layer, and the sentinels it maps to status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels matched with errors.Is.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict")
	ErrGone           = errors.New("resource gone")
	ErrServiceUnavail = errors.New("service unavailable")
)

// sentinelStatus is consulted in order by HTTPStatus.
var sentinelStatus = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrAlreadyExists, http.StatusConflict},
	{ErrConflict, http.StatusConflict},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrGone, http.StatusGone},
	{ErrServiceUnavail, http.StatusServiceUnavailable},
}

// AppError is an error with a machine-readable code, a client-safe message
// and the HTTP status it should surface as.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(code, message string, status int, cause, fallback error) *AppError {
	if cause == nil {
		cause = fallback
	}
	return &AppError{Code: code, Message: message, Status: status, Err: cause}
}

// NotFound reports a missing resource as 404.
func NotFound(resource, id string) *AppError {
	return newAppError("NOT_FOUND", fmt.Sprintf("%s with id %s not found", resource, id),
		http.StatusNotFound, nil, ErrNotFound)
}

// AlreadyExists reports a uniqueness clash as 409.
func AlreadyExists(resource, field, value string) *AppError {
	return newAppError("ALREADY_EXISTS", fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		http.StatusConflict, nil, ErrAlreadyExists)
}

// InvalidInput reports a rejected request as 400.
func InvalidInput(message string) *AppError {
	return newAppError("INVALID_INPUT", message, http.StatusBadRequest, nil, ErrInvalidInput)
}

// Conflict is a 409 with a domain code. A nil cause wraps ErrConflict.
func Conflict(code, message string, cause error) *AppError {
	return newAppError(code, message, http.StatusConflict, cause, ErrConflict)
}

// Gone is a 410.
func Gone(message string) *AppError {
	return newAppError("GONE", message, http.StatusGone, nil, ErrGone)
}

// ServiceUnavailable is a 503 with a domain code. A nil cause wraps
// ErrServiceUnavail.
func ServiceUnavailable(code, message string, cause error) *AppError {
	return newAppError(code, message, http.StatusServiceUnavailable, cause, ErrServiceUnavail)
}

// HTTPStatus returns the status of the first AppError in err's chain, else
// the status of a wrapped sentinel, else 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
