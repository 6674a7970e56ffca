// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/aquamon/aquamon/internal/log"
	"github.com/aquamon/aquamon/internal/wallclock"
)

type (
	// Task is a function to retry. It reports whether a failure is worth
	// retrying alongside the error itself.
	Task = func(context.Context) (retry bool, err error)

	// Policy runs a task until it succeeds or the policy gives up.
	Policy interface {
		Start(ctx context.Context, name string, task Task) error
	}

	// ExponentialBackoff retries with a doubling interval and optional jitter.
	ExponentialBackoff struct {
		// MaxAttempts bounds the number of attempts; 0 means unlimited and 1
		// disables retries.
		MaxAttempts uint64

		// MinInterval is the first wait (before jitter); defaults to 1/8s.
		MinInterval time.Duration

		// MaxInterval caps the wait (before jitter); defaults to 30s.
		MaxInterval time.Duration

		// Timeout bounds the total time spent across all attempts.
		Timeout time.Duration

		// NoJitter disables the +/-5% jitter.
		NoJitter bool

		Logger *slog.Logger
	}
)

// Start runs the task under the backoff policy.
func (e *ExponentialBackoff) Start(
	ctx context.Context,
	name string,
	task Task,
) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	l := log.Wrap(e.Logger)
	taskAttr := slog.String("task", name)

	var attempt uint64
	for {
		attempt++
		retry, err := task(ctx)
		if err == nil {
			if attempt > 1 {
				l.Log(ctx, slog.LevelInfo, "retry succeeded",
					taskAttr, slog.Uint64("attempt", attempt))
			}
			return nil
		}

		wait, ok := e.next(ctx, attempt, retry)
		if !ok {
			l.Log(ctx, slog.LevelWarn, "retry abandoned",
				taskAttr,
				slog.Uint64("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}

		l.Log(ctx, slog.LevelDebug, "retry scheduled",
			taskAttr,
			slog.Uint64("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)

		select {
		case <-wallclock.Instance.After(wait):
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// Compute the wait before the next attempt, or false to stop.
func (e *ExponentialBackoff) next(
	ctx context.Context,
	attempt uint64,
	retry bool,
) (time.Duration, bool) {
	if !retry || attempt == e.MaxAttempts || ctx.Err() != nil {
		return 0, false
	}

	lo := e.MinInterval
	if lo <= 0 {
		lo = time.Second / 8
	}
	hi := e.MaxInterval
	if hi <= 0 {
		hi = 30 * time.Second
	}
	if hi < lo {
		hi = lo
	}

	exp := min(float64(attempt-1), math.Log2(float64(hi)/float64(lo)))
	factor := math.Pow(2, exp)
	if !e.NoJitter {
		// #nosec G404
		factor *= .95 + .1*rand.Float64()
	}
	return time.Duration(factor * float64(lo)), true
}
