// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package wallclock

import (
	"context"
	"time"
)

type (
	// WallClock is the subset of packages context and time that the engines
	// depend on for deadlines and timestamps.
	WallClock interface {
		WithTimeoutCause(
			parent context.Context,
			timeout time.Duration,
			cause error,
		) (context.Context, context.CancelFunc)
		After(d time.Duration) <-chan time.Time
		NewTicker(d time.Duration) Ticker
		Now() time.Time
	}

	// Ticker abstracts the functionality of time.Ticker.
	Ticker interface {
		C() <-chan time.Time
		Stop()
	}

	system struct{}

	ticker struct{ *time.Ticker }
)

func (system) WithTimeoutCause(
	parent context.Context,
	timeout time.Duration,
	cause error,
) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(parent, timeout, cause)
}

func (system) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (system) NewTicker(d time.Duration) Ticker {
	return ticker{time.NewTicker(d)}
}

func (system) Now() time.Time {
	return time.Now()
}

func (t ticker) C() <-chan time.Time {
	return t.Ticker.C
}

// Instance is the clock used by the module. Tests may replace it to control
// apparent time.
var Instance WallClock = system{}
