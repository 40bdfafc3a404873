package core

import "errors"

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

// Error code constants.
const (
	ErrCodeNetwork        ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT"
	ErrCodeAuth           ErrorCode = "AUTH_ERROR"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeQuery          ErrorCode = "QUERY_ERROR"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeMalformed      ErrorCode = "MALFORMED_RESPONSE"
	ErrCodeDuplicateTime  ErrorCode = "DUPLICATE_TIMESTAMP"
	ErrCodeShapeMismatch  ErrorCode = "SHAPE_MISMATCH"
	ErrCodeBatchSize      ErrorCode = "BATCH_SIZE_EXCEEDED"

	// Parameter errors
	ErrCodeInvalidParam  ErrorCode = "INVALID_PARAM"
	ErrCodeMissingParam  ErrorCode = "MISSING_PARAM"
	ErrCodeUnknownParam  ErrorCode = "UNKNOWN_PARAM"
	ErrCodeInvalidSymbol ErrorCode = "INVALID_SYMBOL"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingToken  ErrorCode = "MISSING_TOKEN"

	// Client state errors
	ErrCodeClientClosed ErrorCode = "CLIENT_CLOSED"

	// Circuit breaker errors
	ErrCodeCircuitBreaker ErrorCode = "CIRCUIT_BREAKER_OPEN"

	ErrCodeUnknownEndpoint ErrorCode = "UNKNOWN_ENDPOINT"
)

// IsErrorCode checks if the error matches the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
