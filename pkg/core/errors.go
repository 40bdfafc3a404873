package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of a client error.
type ErrorType int

// Error type constants categorize errors for proper handling and retry logic.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConfiguration indicates the client configuration could not be resolved.
	ErrorTypeConfiguration
	// ErrorTypeParameterValidation indicates a request parameter failed its constraint.
	ErrorTypeParameterValidation
	// ErrorTypeAuthentication indicates an invalid or unauthorized token.
	ErrorTypeAuthentication
	// ErrorTypeNotFound indicates the requested resource does not exist or returned no data.
	ErrorTypeNotFound
	// ErrorTypeRateLimit indicates the service quota was exceeded.
	ErrorTypeRateLimit
	// ErrorTypeTransientNetwork indicates a retryable transport or server failure.
	ErrorTypeTransientNetwork
	// ErrorTypeTimeout indicates the caller deadline passed.
	ErrorTypeTimeout
	// ErrorTypeMalformedResponse indicates the payload did not match its declared shape.
	ErrorTypeMalformedResponse
	// ErrorTypeBatchSizeExceeded indicates too many symbols for a non-splittable endpoint.
	ErrorTypeBatchSizeExceeded
	// ErrorTypeQuery indicates a non-retryable request failure or exhausted retries.
	ErrorTypeQuery
	// ErrorTypeCircuitOpen indicates the circuit breaker rejected the call.
	ErrorTypeCircuitOpen
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	names := [...]string{
		"UNKNOWN",
		"CONFIGURATION",
		"PARAMETER_VALIDATION",
		"AUTHENTICATION",
		"NOT_FOUND",
		"RATE_LIMIT",
		"TRANSIENT_NETWORK",
		"TIMEOUT",
		"MALFORMED_RESPONSE",
		"BATCH_SIZE_EXCEEDED",
		"QUERY",
		"CIRCUIT_OPEN",
	}
	if int(t) < 0 || int(t) >= len(names) {
		return "UNKNOWN"
	}
	return names[t]
}

// Sentinel errors for common error conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrCircuitBreakerOpen is returned when circuit breaker is open.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrNoToken is returned when no API token is available.
	ErrNoToken = errors.New("no api token configured")
)

// Error is the structured error returned by every layer of the client.
// It carries the endpoint and parameters of the failing call so batch callers
// can attribute failures per symbol.
type Error struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// Code is a stable machine-readable identifier.
	Code ErrorCode `json:"code,omitempty"`
	// StatusCode is the HTTP status code of the last response, if any.
	StatusCode int `json:"status_code,omitempty"`
	// Endpoint is the descriptor id of the failing call.
	Endpoint string `json:"endpoint,omitempty"`
	// Param names the offending parameter for validation errors.
	Param string `json:"param,omitempty"`
	// Params are the validated parameters of the failing call.
	Params Params `json:"params,omitempty"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// Body is the raw body of the last response, if any.
	Body string `json:"body,omitempty"`
	// Attempts is how many network attempts were made.
	Attempts int `json:"attempts,omitempty"`
	// Cause is the underlying error.
	Cause error `json:"-"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := e.Endpoint
	if prefix == "" {
		prefix = "iex"
	}
	msg := e.Message
	if e.Param != "" {
		msg = e.Param + ": " + msg
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] %s (%d): %s", prefix, e.Type, e.StatusCode, msg)
	}
	return fmt.Sprintf("[%s] %s: %s", prefix, e.Type, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Code == "" || t.Code == e.Code)
}

// Retryable reports whether the executor may repeat the request.
func (e *Error) Retryable() bool {
	return e.Type == ErrorTypeTransientNetwork || e.Type == ErrorTypeRateLimit
}

// WithCode sets the error code and returns the error for chaining.
func (e *Error) WithCode(code ErrorCode) *Error {
	e.Code = code
	return e
}

// WithParams attaches the call parameters and returns the error for chaining.
func (e *Error) WithParams(params Params) *Error {
	e.Params = params
	return e
}

// bodyExcerpt bounds the body text kept on an error.
const bodyExcerpt = 512

// WithBody attaches the start of a response body and returns the error for chaining.
func (e *Error) WithBody(body []byte) *Error {
	if len(body) > bodyExcerpt {
		body = body[:bodyExcerpt]
	}
	e.Body = string(body)
	return e
}

// AttachCall records the parameters and response body of the failing call on
// a malformed-response error. Other errors are returned unchanged.
func AttachCall(err error, params Params, body []byte) error {
	var e *Error
	if !errors.As(err, &e) || e.Type != ErrorTypeMalformedResponse {
		return err
	}
	if e.Params == nil {
		e.Params = params
	}
	if e.Body == "" {
		e.WithBody(body)
	}
	return err
}

// WithCause attaches an underlying error and returns the error for chaining.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// NewError creates a new Error with the specified details.
// The timestamp is automatically set to the current time.
func NewError(endpoint string, errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		Code:       defaultCode(errorType),
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    message,
		Timestamp:  time.Now(),
	}
}

// NewConfigurationError reports an unresolvable configuration value.
func NewConfigurationError(message string, cause error) *Error {
	return NewError("", ErrorTypeConfiguration, 0, message).WithCause(cause)
}

// NewValidationError reports a parameter that violates its constraint.
func NewValidationError(endpoint, param, constraint string) *Error {
	e := NewError(endpoint, ErrorTypeParameterValidation, 0, constraint)
	e.Param = param
	return e
}

// NewMalformedError reports a payload that does not match the declared shape.
func NewMalformedError(endpoint, message string) *Error {
	return NewError(endpoint, ErrorTypeMalformedResponse, 0, message)
}

// NewNotFoundError reports a missing resource or an empty payload.
func NewNotFoundError(endpoint string, params Params) *Error {
	return NewError(endpoint, ErrorTypeNotFound, 404, "no data returned").WithParams(params)
}

func defaultCode(t ErrorType) ErrorCode {
	switch t {
	case ErrorTypeConfiguration:
		return ErrCodeInvalidConfig
	case ErrorTypeParameterValidation:
		return ErrCodeInvalidParam
	case ErrorTypeAuthentication:
		return ErrCodeAuth
	case ErrorTypeNotFound:
		return ErrCodeNotFound
	case ErrorTypeRateLimit:
		return ErrCodeRateLimit
	case ErrorTypeTransientNetwork:
		return ErrCodeNetwork
	case ErrorTypeTimeout:
		return ErrCodeTimeout
	case ErrorTypeMalformedResponse:
		return ErrCodeMalformed
	case ErrorTypeBatchSizeExceeded:
		return ErrCodeBatchSize
	case ErrorTypeQuery:
		return ErrCodeQuery
	case ErrorTypeCircuitOpen:
		return ErrCodeCircuitBreaker
	default:
		return ""
	}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

func isType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsConfigurationError returns true if the configuration could not be resolved.
func IsConfigurationError(err error) bool { return isType(err, ErrorTypeConfiguration) }

// IsValidationError returns true if a parameter failed validation.
// Validation errors never reach the network.
func IsValidationError(err error) bool { return isType(err, ErrorTypeParameterValidation) }

// IsAuthenticationError returns true if the error is an authentication failure.
// Authentication errors are not retryable.
func IsAuthenticationError(err error) bool { return isType(err, ErrorTypeAuthentication) }

// IsNotFoundError returns true if the resource was missing or empty.
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsRateLimitError returns true if the error is a rate limit violation.
func IsRateLimitError(err error) bool { return isType(err, ErrorTypeRateLimit) }

// IsTransientError returns true if the error is a retryable transport or server failure.
func IsTransientError(err error) bool { return isType(err, ErrorTypeTransientNetwork) }

// IsTimeoutError returns true if the caller deadline passed.
func IsTimeoutError(err error) bool { return isType(err, ErrorTypeTimeout) }

// IsMalformedError returns true if the payload did not match its declared shape.
func IsMalformedError(err error) bool { return isType(err, ErrorTypeMalformedResponse) }

// IsBatchSizeError returns true if a batch exceeded a non-splittable ceiling.
func IsBatchSizeError(err error) bool { return isType(err, ErrorTypeBatchSizeExceeded) }

// IsQueryError returns true if the request failed without further retries.
func IsQueryError(err error) bool { return isType(err, ErrorTypeQuery) }

// IsTerminalError returns true if the error will not succeed on retry.
func IsTerminalError(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeAuthentication, ErrorTypeNotFound, ErrorTypeParameterValidation,
		ErrorTypeConfiguration, ErrorTypeBatchSizeExceeded, ErrorTypeQuery:
		return true
	}
	return false
}
