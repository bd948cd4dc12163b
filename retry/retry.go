// Package retry provides exponential backoff for transient failures,
// such as storage backends that are still coming up when the daemon
// starts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt
	// (default: 5). Zero executes once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 500ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration (default: 30s).
	MaxBackoff time.Duration

	// Multiplier grows the backoff after each retry (default: 2.0).
	Multiplier float64

	// Jitter randomizes each backoff by up to the given fraction,
	// between 0 and 1 (default: 0.2).
	Jitter float64

	// IsRetryable decides whether an error is worth another attempt.
	// Nil defaults to DefaultIsRetryable.
	IsRetryable func(error) bool

	// OnRetry, when set, is invoked before each backoff sleep with the
	// upcoming attempt number (starting at 1), the sleep duration and the
	// error that caused the retry.
	OnRetry func(attempt int, backoff time.Duration, err error)
}

// DefaultConfig returns a Config suited to waiting out a backend restart.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		IsRetryable:    DefaultIsRetryable,
	}
}

// Sentinel errors.
var (
	// ErrNotRetryable marks errors that must not be retried.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is returned when all attempts are exhausted.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled is returned when the context ended mid-retry.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// Func is a retryable operation.
type Func func(ctx context.Context) error

// Do executes fn, retrying with backoff until it succeeds, the error is
// not retryable, the attempts are exhausted, or ctx ends. The returned
// error is nil or a *RetryError wrapping the last failure.
func Do(ctx context.Context, cfg Config, fn Func) error {
	cfg = applyDefaults(cfg)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return &RetryError{Cause: lastErr, Attempts: attempt, Err: ErrContextCanceled}
			}
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return &RetryError{Cause: err, Attempts: attempt + 1, Err: ErrNotRetryable}
		}

		if attempt < cfg.MaxRetries {
			backoff := backoffFor(cfg, attempt)
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt+1, backoff, err)
			}
			select {
			case <-ctx.Done():
				return &RetryError{Cause: lastErr, Attempts: attempt + 1, Err: ErrContextCanceled}
			case <-time.After(backoff):
			}
		}
	}

	return &RetryError{Cause: lastErr, Attempts: cfg.MaxRetries + 1, Err: ErrMaxRetries}
}

// DoWithResult executes fn with retries and returns its result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// RetryError describes a failed retry operation.
type RetryError struct {
	// Cause is the last error returned by the operation.
	Cause error

	// Attempts is the number of attempts made.
	Attempts int

	// Err is ErrMaxRetries, ErrNotRetryable or ErrContextCanceled.
	Err error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

// Is matches both the sentinel and the cause, so errors.Is works against
// either.
func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

// backoffFor computes the sleep before the given zero-based attempt's
// retry.
func backoffFor(cfg Config, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		spread := backoff * cfg.Jitter
		backoff = backoff - spread + rand.Float64()*2*spread
	}
	return time.Duration(backoff)
}

// applyDefaults fills zero values with defaults.
func applyDefaults(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return cfg
}

// DefaultIsRetryable treats errors as retryable unless they are marked
// otherwise or implement Retryable() bool saying no. Unknown errors retry;
// callers needing stricter rules set Config.IsRetryable.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRetryable) {
		return false
	}
	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// MarkNotRetryable wraps err so Do gives up on it immediately.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{cause: err, retryable: false}
}

// MarkRetryable wraps err so Do keeps trying it, overriding a Retryable
// method further down the chain.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{cause: err, retryable: true}
}

type markedError struct {
	cause     error
	retryable bool
}

func (e *markedError) Error() string {
	return e.cause.Error()
}

func (e *markedError) Unwrap() error {
	return e.cause
}

func (e *markedError) Retryable() bool {
	return e.retryable
}
