package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/logger"
)

// RetryConfig defines the retry policy for an operation.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// An operation runs at most MaxRetries+1 times.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64

	// Jitter randomizes each delay to avoid lockstep retries from
	// concurrent callers hitting the same endpoint.
	Jitter bool

	// RetryableErrors decides whether a failure is worth retrying.
	// Non-retryable failures are returned immediately.
	RetryableErrors func(error) bool

	// Logger, when set, receives every failed attempt with its attempt
	// number, whether or not the failure is retried.
	Logger logger.Logger

	// Operation names the operation in logged attempt failures.
	Operation string
}

// DefaultRetryConfig returns a sensible default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors treats every error as retryable except nil, context
// cancellation, and an open circuit breaker. Callers with classified errors
// should supply their own predicate.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrCircuitBreakerTimeout) {
		return false
	}
	return true
}

// RetryStats describes what a retried operation cost.
type RetryStats struct {
	TotalAttempts   int
	TotalRetries    int
	SuccessfulCalls int
	TotalBackoff    time.Duration
	AverageBackoff  time.Duration
}

// Retry runs fn up to config.MaxRetries+1 times, sleeping an exponentially
// growing delay between attempts. It returns nil on the first success, the
// error unchanged when it is not retryable, and the last error once the
// attempt budget is exhausted. The context aborts both the backoff sleep and
// any further attempts.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryWithStats is Retry with attempt and backoff statistics.
func RetryWithStats(ctx context.Context, config RetryConfig, fn func() error) (RetryStats, error) {
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}
	var stats RetryStats
	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.TotalAttempts++
		err := fn()
		if err == nil {
			stats.SuccessfulCalls++
			return stats, nil
		}
		lastErr = err
		if config.Logger != nil {
			config.Logger.Warn("%s failed (attempt %d/%d): %v", operationName(config), attempt+1, config.MaxRetries+1, err)
		}
		if !retryable(err) {
			return stats, err
		}
		if attempt == config.MaxRetries {
			break
		}
		backoff := calculateBackoff(attempt, config)
		stats.TotalRetries++
		stats.TotalBackoff += backoff
		if err := sleep(ctx, backoff); err != nil {
			return stats, err
		}
	}
	if stats.TotalRetries > 0 {
		stats.AverageBackoff = stats.TotalBackoff / time.Duration(stats.TotalRetries)
	}
	return stats, fmt.Errorf("retries exhausted after %d attempts: %w", stats.TotalAttempts, lastErr)
}

// ExponentialBackoff retries fn with a doubling delay starting at
// initialBackoff and no upper cap beyond the retry budget.
func ExponentialBackoff(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn func() error) error {
	return Retry(ctx, RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    initialBackoff,
		MaxBackoff:        time.Duration(math.MaxInt64),
		BackoffMultiplier: 2.0,
		RetryableErrors:   DefaultRetryableErrors,
	}, fn)
}

// calculateBackoff returns the delay before the retry following the given
// zero-based attempt: InitialBackoff * BackoffMultiplier^attempt, scaled by
// a random factor in [0.9, 1.2) when Jitter is on. The result never exceeds
// MaxBackoff, jittered or not.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt))
	if config.Jitter {
		backoff *= 0.9 + rand.Float64()*0.3
	}
	if limit := float64(config.MaxBackoff); config.MaxBackoff > 0 && backoff > limit {
		backoff = limit
	}
	return time.Duration(backoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func operationName(config RetryConfig) string {
	if config.Operation != "" {
		return config.Operation
	}
	return "operation"
}
