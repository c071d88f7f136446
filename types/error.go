package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the API.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
)

// Workflow error codes
const (
	ErrGraphInvalidEdge ErrorCode = "GRAPH_INVALID_EDGE"
	ErrCompileFailed    ErrorCode = "COMPILE_FAILED"
	ErrStoreError       ErrorCode = "STORE_ERROR"
	ErrRunStartFailed   ErrorCode = "RUN_START_FAILED"
)

// Server error codes
const (
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

var defaultStatus = map[ErrorCode]int{
	ErrInvalidRequest:     http.StatusBadRequest,
	ErrNotFound:           http.StatusNotFound,
	ErrUnauthorized:       http.StatusUnauthorized,
	ErrRateLimited:        http.StatusTooManyRequests,
	ErrGraphInvalidEdge:   http.StatusUnprocessableEntity,
	ErrCompileFailed:      http.StatusUnprocessableEntity,
	ErrStoreError:         http.StatusInternalServerError,
	ErrRunStartFailed:     http.StatusBadGateway,
	ErrInternalError:      http.StatusInternalServerError,
	ErrServiceUnavailable: http.StatusServiceUnavailable,
}

// HTTPStatusFor returns the status used when an Error does not set one.
func HTTPStatusFor(code ErrorCode) int {
	if s, ok := defaultStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Retryable  bool           `json:"retryable"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Status returns HTTPStatus or the default for the code.
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return HTTPStatusFor(e.Code)
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithDetail attaches a machine readable detail, e.g. the offending node id.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
