package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Pipeline error codes
const (
	ErrInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrPoorImageQuality  ErrorCode = "POOR_IMAGE_QUALITY"
	ErrTransientService  ErrorCode = "TRANSIENT_SERVICE"
	ErrCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrLowConfidencePlan ErrorCode = "LOW_CONFIDENCE_PLAN"
	ErrExecutionStep     ErrorCode = "EXECUTION_STEP"
)

// Transport error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Service    string    `json:"service,omitempty"`
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

// WithService sets the external service the error originated from.
func (e *Error) WithService(service string) *Error {
	e.Service = service
	return e
}

// NewInvalidInput reports a caller mistake (bad image, empty intent).
// Never retried.
func NewInvalidInput(message string) *Error {
	return &Error{Code: ErrInvalidInput, Message: message, HTTPStatus: http.StatusBadRequest}
}

// NewPoorImageQuality reports an image rejected by the quality gate.
// The message must tell the user how to fix the image.
func NewPoorImageQuality(message string) *Error {
	return &Error{Code: ErrPoorImageQuality, Message: message, HTTPStatus: http.StatusUnprocessableEntity}
}

// NewTransientService reports an upstream failure worth retrying.
func NewTransientService(service string, cause error) *Error {
	return &Error{
		Code:       ErrTransientService,
		Message:    fmt.Sprintf("%s service failure, retrying may help", service),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Service:    service,
		Cause:      cause,
	}
}

// NewCircuitOpen reports a call rejected without reaching the service.
func NewCircuitOpen(service string) *Error {
	return &Error{
		Code:       ErrCircuitOpen,
		Message:    fmt.Sprintf("%s service temporarily unavailable, please retry later", service),
		HTTPStatus: http.StatusServiceUnavailable,
		Service:    service,
	}
}

// NewExecutionStep reports a failed plan step. Recorded in the execution
// log; escalation to partial or error is the executor's call.
func NewExecutionStep(step int, cause error) *Error {
	return &Error{
		Code:    ErrExecutionStep,
		Message: fmt.Sprintf("step %d failed", step),
		Cause:   cause,
	}
}

// IsRetryable checks if an error is retryable. Wrapped errors are searched.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" if it carries none.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode checks whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// AsError extracts a structured Error from err, if it carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
