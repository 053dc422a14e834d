package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrInvalidPolicy is returned by NewExecutor for a policy that fails validation.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// StatusCoder is implemented by errors that carry the HTTP status code of a
// failed response. The transport layer populates it; errors without one are
// treated as network-level failures.
type StatusCoder interface {
	HTTPStatusCode() int
}

// StatusError is a minimal StatusCoder for callers that do not have their
// own HTTP error type.
type StatusError struct {
	StatusCode int
	Err        error
}

// NewStatusError creates a StatusError for code wrapping err.
func NewStatusError(code int, err error) *StatusError {
	return &StatusError{StatusCode: code, Err: err}
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode implements StatusCoder.
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// StatusCode returns the HTTP status code carried anywhere in err's chain.
func StatusCode(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode(), true
	}
	return 0, false
}

// ErrorClass represents a classification of failures for logs and metrics.
type ErrorClass string

const (
	// ErrorClassNetwork represents failures without a status code.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents 408 responses and transport timeouts.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassClient represents every other status code.
	ErrorClassClient ErrorClass = "client"
)

// Classify categorizes err. It does not decide retryability; the policy's
// status code set does.
func Classify(err error) ErrorClass {
	code, ok := StatusCode(err)
	if !ok {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return ErrorClassTimeout
		}
		return ErrorClassNetwork
	}

	switch {
	case code == http.StatusRequestTimeout:
		return ErrorClassTimeout
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
