// Package retry re-invokes failing operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/resilient-fetch/pkg/logging"
	"github.com/rs/zerolog"
)

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// TimerSleeper is the default Sleeper.
func TimerSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the sleep primitive used between attempts.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// DefaultName labels the metrics of an executor created without WithName.
const DefaultName = "default"

// WithName sets the executor label on metrics and logs, so executors for
// different upstreams can be told apart.
func WithName(name string) Option {
	return func(e *Executor) {
		if name != "" {
			e.name = name
		}
	}
}

// WithLogger sets the executor's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// Executor runs operations under a Policy. It holds no per-call state and is
// safe for concurrent use.
type Executor struct {
	name   string
	policy Policy
	sleep  Sleeper
	logger zerolog.Logger
}

// NewExecutor creates an Executor after validating policy.
func NewExecutor(policy Policy, opts ...Option) (*Executor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	e := &Executor{
		name:   DefaultName,
		policy: policy,
		sleep:  TimerSleeper,
		logger: logging.NewLogger(logging.ComponentRetry),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("executor", e.name).Logger()
	return e, nil
}

// Name returns the executor's metrics label.
func (e *Executor) Name() string {
	return e.name
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Execute invokes fn until it succeeds, fails permanently, or MaxRetries
// additional attempts have failed. The last error is returned as-is, so the
// caller sees the same error contract as fn itself.
//
// Only the wait between attempts observes ctx; an attempt in flight is never
// interrupted by the executor. If ctx ends during a wait, the returned error
// wraps both ctx.Err() and the last error.
func (e *Executor) Execute(ctx context.Context, fn func(context.Context) error) error {
	delay := e.policy.InitialDelay

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				e.logger.Info().
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		class := Classify(err)

		if !e.policy.IsRetryable(err) {
			retryPermanentTotal.WithLabelValues(e.name, string(class)).Inc()
			e.logger.Debug().
				Err(err).
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Permanent failure, not retrying")
			return err
		}

		if attempt >= e.policy.MaxRetries {
			retryExhaustedTotal.WithLabelValues(e.name, string(class)).Inc()
			e.logger.Warn().
				Err(err).
				Str("error_class", string(class)).
				Int("max_retries", e.policy.MaxRetries).
				Msg("Retry attempts exhausted")
			return err
		}

		wait := min(delay, e.policy.MaxDelay)

		retriesTotal.WithLabelValues(e.name, string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(e.name, string(class)).Observe(wait.Seconds())
		e.logger.Debug().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("delay", wait).
			Msg("Retrying after backoff")

		if serr := e.sleep(ctx, wait); serr != nil {
			e.logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context done during retry backoff")
			return fmt.Errorf("retry interrupted after attempt %d: %w", attempt, errors.Join(serr, err))
		}

		delay = time.Duration(float64(delay) * e.policy.Multiplier)
		if delay > e.policy.MaxDelay {
			delay = e.policy.MaxDelay
		}
	}
}

// Do is the value-returning form of Execute.
func Do[T any](ctx context.Context, e *Executor, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
