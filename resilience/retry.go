// Package resilience provides retry bookkeeping and backoff policy for
// transcription jobs, plus the injectable clock that drives all timing.
package resilience

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy is a pure description of retry timing. It holds no state, so
// backoff values are computable without a clock.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts per job (including the
	// first).
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the job-level retry policy: three attempts,
// 1s initial delay doubling per attempt, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		BackoffFactor:  2.0,
		MaxBackoff:     30 * time.Second,
	}
}

// ApplyDefaults fills zero-valued fields from DefaultRetryPolicy.
func (p *RetryPolicy) ApplyDefaults() {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = def.BackoffFactor
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
}

// Backoff returns the delay before retry number attempt (0-based: attempt 0
// is the delay before the first retry).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	return time.Duration(backoff)
}

// RetryIf determines whether an error should be retried.
type RetryIf func(error) bool

// DefaultRetryIf retries all errors except context cancellation.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Retry executes fn with in-place retries per the policy, sleeping through
// clock between attempts. Returns the last error when attempts run out.
func Retry[T any](ctx context.Context, clock Clock, policy RetryPolicy, retryIf RetryIf, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	policy.ApplyDefaults()
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	if clock == nil {
		clock = RealClock{}
	}

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryIf(err) {
			return zero, err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		if err := clock.Sleep(ctx, policy.Backoff(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}
