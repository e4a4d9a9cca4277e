package errors

import (
	"fmt"
	"time"
)

// ErrorType classifies a fetch or download failure. Each type maps to a
// distinct retry policy: proxy faults rotate the proxy, rate limits back
// off and keep the proxy, content faults advance to the next candidate,
// exhaustion is terminal for the task but never for the run.
type ErrorType string

const (
	ErrorTypeProxy       ErrorType = "proxy"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeContent     ErrorType = "content"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeExhausted   ErrorType = "exhausted"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a classified failure with the HTTP status that caused
// it, when one exists (Code 0 means a transport-level failure).
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Cause   error
	// RetryAfter carries the server's Retry-After hint on rate-limit
	// errors, zero when absent
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error
func New(t ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Code: code}
}

// Wrap creates a classified error around a cause
func Wrap(t ErrorType, cause error, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ClassifyStatus maps an HTTP status code to an error type. A zero code
// means the request never produced a response.
func ClassifyStatus(code int) ErrorType {
	switch {
	case code == 0:
		return ErrorTypeNetwork
	case code == 429:
		return ErrorTypeRateLimit
	case code == 404 || code == 410:
		return ErrorTypeNotFound
	case code >= 500:
		return ErrorTypeServerError
	case code >= 400:
		return ErrorTypeContent
	default:
		return ErrorTypeUnknown
	}
}

// IsProxyFault reports whether the failure indicates the proxy, not the
// target, is broken. Rate limiting is explicitly a target signal.
func IsProxyFault(t ErrorType) bool {
	switch t {
	case ErrorTypeProxy, ErrorTypeNetwork, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether the same logical operation is worth
// retrying (possibly through a different proxy)
func IsRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeProxy, ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}
