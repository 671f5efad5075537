package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Retrieval error codes
const (
	ErrDenseBackendUnavailable ErrorCode = "DENSE_UNAVAILABLE"
	ErrAdapterTimeout          ErrorCode = "ADAPTER_TIMEOUT"
	ErrAdapterFailed           ErrorCode = "ADAPTER_FAILED"
	ErrTurnCancelled           ErrorCode = "CANCELLED"
	ErrGenerationFailed        ErrorCode = "GENERATION_FAILED"
)

// Grounding error codes
const (
	ErrDocumentNotFound ErrorCode = "DOCUMENT_NOT_FOUND"
	ErrTokenizerError   ErrorCode = "TOKENIZER_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Backend    string    `json:"backend,omitempty"`
	Cause      error     `json:"-"`
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

// Is reports whether target carries the same error code.
// This lets callers match a fresh *Error against the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
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

// WithBackend sets the retrieval backend name.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// Sentinel errors. Compare with errors.Is; wrap with NewDenseUnavailableError / NewCancelledError
// when a cause should be preserved.
var (
	// ErrDenseUnavailable 稠密检索后端缺失，是路由唯一的致命错误
	ErrDenseUnavailable = &Error{
		Code:       ErrDenseBackendUnavailable,
		Message:    "dense passage store is not available",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	// ErrCancelled 调用方取消了本轮请求
	ErrCancelled = &Error{
		Code:       ErrTurnCancelled,
		Message:    "turn cancelled",
		HTTPStatus: 499,
	}
)

// NewDenseUnavailableError returns a DENSE_UNAVAILABLE error.
func NewDenseUnavailableError() *Error {
	return NewError(ErrDenseBackendUnavailable, ErrDenseUnavailable.Message).
		WithHTTPStatus(http.StatusServiceUnavailable)
}

// NewCancelledError wraps a context error as CANCELLED.
func NewCancelledError(cause error) *Error {
	return NewError(ErrTurnCancelled, ErrCancelled.Message).
		WithHTTPStatus(499).
		WithCause(cause)
}

// NewAdapterError wraps a backend failure.
func NewAdapterError(backend Backend, cause error) *Error {
	code := ErrAdapterFailed
	if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrAdapterTimeout
	}
	return NewError(code, "retrieval adapter failed").
		WithBackend(string(backend)).
		WithRetryable(true).
		WithCause(cause)
}

// NewInvalidRequestError creates an INVALID_REQUEST error.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewDocumentNotFoundError creates a DOCUMENT_NOT_FOUND error.
func NewDocumentNotFoundError(documentID string) *Error {
	return NewError(ErrDocumentNotFound, "document not found: "+documentID).
		WithHTTPStatus(http.StatusNotFound)
}
