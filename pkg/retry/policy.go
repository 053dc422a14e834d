package retry

import (
	"fmt"
	"math"
	"net/http"
	"time"
)

// Policy holds the configuration for exponential backoff.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration

	// Multiplier is the growth factor per attempt.
	Multiplier float64

	// RetryableStatusCodes lists the HTTP status codes eligible for retry.
	// Errors without a status code are always eligible.
	RetryableStatusCodes []int
}

// DefaultRetryableStatusCodes are the status codes retried by DefaultPolicy.
var DefaultRetryableStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	codes := make([]int, len(DefaultRetryableStatusCodes))
	copy(codes, DefaultRetryableStatusCodes)

	return Policy{
		MaxRetries:           3,
		InitialDelay:         1 * time.Second,
		MaxDelay:             30 * time.Second,
		Multiplier:           2.0,
		RetryableStatusCodes: codes,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must be >= 0 (got %d)", ErrInvalidPolicy, p.MaxRetries)
	case p.InitialDelay < 0:
		return fmt.Errorf("%w: initial delay must be >= 0 (got %v)", ErrInvalidPolicy, p.InitialDelay)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("%w: max delay %v is below initial delay %v", ErrInvalidPolicy, p.MaxDelay, p.InitialDelay)
	case p.Multiplier <= 1:
		return fmt.Errorf("%w: multiplier must be > 1 (got %v)", ErrInvalidPolicy, p.Multiplier)
	}
	return nil
}

// Delay returns the capped wait before retry number attempt (0-based):
// min(InitialDelay * Multiplier^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// IsRetryable reports whether err is transient under this policy: either it
// carries no status code or its status code is in RetryableStatusCodes.
func (p Policy) IsRetryable(err error) bool {
	code, ok := StatusCode(err)
	if !ok {
		return true
	}
	for _, c := range p.RetryableStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}
