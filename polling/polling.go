// Package polling implements the bounded long-poll loop used by multi-step
// transcription providers: query remote status until terminal, retrying
// transient network failures in place within a fixed attempt budget.
package polling

import (
	"context"
	"time"

	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/resilience"
)

// State is the remote job state reported by one status query.
type State int

const (
	// StatePending means the remote job is still running.
	StatePending State = iota
	// StateSucceeded means the remote job finished successfully.
	StateSucceeded
	// StateFailed means the remote job reported a failure.
	StateFailed
	// StateCancelled means the remote job was cancelled remotely.
	StateCancelled
)

// StatusFunc queries the remote job once and returns its state plus the
// remote-provided message (used verbatim on terminal failure).
type StatusFunc func(ctx context.Context) (State, string, error)

// Config bounds the poll loop. The budget is attempt-count based
// (Interval × MaxAttempts nominal wait); each sleep is context-aware, so
// callers wanting a wall-clock bound set a deadline on ctx.
type Config struct {
	// Interval is the sleep between attempts.
	Interval time.Duration
	// MaxAttempts is the attempt budget.
	MaxAttempts int
	// ProgressStart and ProgressEnd bound the interpolated progress values
	// reported across attempts.
	ProgressStart int
	ProgressEnd   int
}

// ApplyDefaults fills zero-valued fields. Defaults give the nominal
// ten-minute budget: 10s × 60 attempts, progress ramping 30→90.
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
	if c.ProgressStart <= 0 {
		c.ProgressStart = 30
	}
	if c.ProgressEnd <= 0 {
		c.ProgressEnd = 90
	}
}

// progressAt interpolates the progress value for a completed attempt.
func (c Config) progressAt(attempt int) int {
	span := c.ProgressEnd - c.ProgressStart
	p := c.ProgressStart + span*attempt/c.MaxAttempts
	if p > c.ProgressEnd {
		p = c.ProgressEnd
	}
	return p
}

// Poll drives query until the remote job is terminal, then invokes
// fetchResult on success. Terminal remote failure raises a
// REMOTE_JOB_FAILURE carrying the remote message; transient network errors
// from query are retried in place against the same attempt budget; an
// exhausted budget raises TIMEOUT.
func Poll[T any](ctx context.Context, clock resilience.Clock, cfg Config, query StatusFunc, fetchResult func(context.Context) (T, error), onProgress func(pct int)) (T, error) {
	var zero T
	cfg.ApplyDefaults()
	if clock == nil {
		clock = resilience.RealClock{}
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		state, message, err := query(ctx)
		switch {
		case err != nil:
			if errors.CodeOf(err) != errors.CodeNetwork {
				return zero, err
			}
			// Transient transport failure: burn the attempt and keep going.
		case state == StateSucceeded:
			return fetchResult(ctx)
		case state == StateFailed:
			if message == "" {
				message = "remote job failed"
			}
			return zero, errors.RemoteJobFailure(message)
		case state == StateCancelled:
			if message == "" {
				message = "remote job cancelled"
			}
			return zero, errors.RemoteJobFailure(message)
		}

		if onProgress != nil {
			onProgress(cfg.progressAt(attempt))
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if err := clock.Sleep(ctx, cfg.Interval); err != nil {
			return zero, err
		}
	}

	return zero, errors.Timeout("transcription poll", cfg.MaxAttempts)
}
