// Package errors provides the typed error taxonomy shared by every agentgate component.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeProcessFailure     = "PROCESS_FAILURE"
	ErrCodeUnsupported        = "UNSUPPORTED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

var statusByCode = map[string]int{
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeProcessFailure:     http.StatusBadGateway,
	ErrCodeUnsupported:        http.StatusUnprocessableEntity,
	ErrCodeInternalError:      http.StatusInternalServerError,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
}

// AppError is an error with a stable code and the HTTP status it maps to.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

func newError(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: statusByCode[code], Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports a missing record.
func NotFound(resource string, id string) *AppError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s with id '%s' not found", resource, id), nil)
}

// Validation reports a bad input field.
func Validation(field string, message string) *AppError {
	return newError(ErrCodeValidation, fmt.Sprintf("validation failed for field '%s': %s", field, message), nil)
}

// Conflict reports an operation that lost against the current state, such as
// answering an approval that is already resolved.
func Conflict(message string) *AppError {
	return newError(ErrCodeConflict, message, nil)
}

// ProcessFailure reports an agent process that failed to start or died.
func ProcessFailure(message string, err error) *AppError {
	return newError(ErrCodeProcessFailure, message, err)
}

// Unsupported reports an operation the target cannot perform, e.g. pausing on a
// platform without job-control signals.
func Unsupported(message string) *AppError {
	return newError(ErrCodeUnsupported, message, nil)
}

// InternalError wraps an unexpected failure.
func InternalError(message string, err error) *AppError {
	return newError(ErrCodeInternalError, message, err)
}

// ServiceUnavailable reports a dependency that cannot be reached.
func ServiceUnavailable(service string) *AppError {
	return newError(ErrCodeServiceUnavailable, fmt.Sprintf("service '%s' is currently unavailable", service), nil)
}

// Wrap wraps an existing error with additional context, returning an AppError.
// An AppError keeps its code and status.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := newError(appErr.Code, fmt.Sprintf("%s: %s", message, appErr.Message), err)
		wrapped.HTTPStatus = appErr.HTTPStatus
		return wrapped
	}
	return newError(ErrCodeInternalError, message, err)
}

func hasCode(err error, codes ...string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	for _, c := range codes {
		if appErr.Code == c {
			return true
		}
	}
	return false
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsProcessFailure checks if the error is an external process failure.
func IsProcessFailure(err error) bool { return hasCode(err, ErrCodeProcessFailure) }

// IsUnsupported checks if the error is an unsupported-operation error.
func IsUnsupported(err error) bool { return hasCode(err, ErrCodeUnsupported) }

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Code returns the AppError code, or ErrCodeInternalError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// Message returns the user-facing message without the code prefix.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
