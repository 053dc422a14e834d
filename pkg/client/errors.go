package client

import (
	"fmt"
)

// HTTPError is returned for upstream responses with status >= 400. It
// carries the status code for the retry executor's retryability decision.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
	Body       []byte
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Message)
}

// HTTPStatusCode implements retry.StatusCoder.
func (e *HTTPError) HTTPStatusCode() int {
	return e.StatusCode
}
