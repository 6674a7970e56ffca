// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package telemetry

import (
	"log/slog"

	"github.com/aquamon/aquamon/internal/options"
	"github.com/aquamon/aquamon/metrics"
	"github.com/aquamon/aquamon/retry"
)

type (
	// Option represents a single option for the engine.
	Option interface{ engine(*Options) }

	// Options are the resolved engine options.
	Options struct {
		Path           string
		BootstrapLimit int
		Capacity       int
		Retry          retry.Policy
		Logger         *slog.Logger
		Metrics        *metrics.Metrics
	}

	// WithPath sets the readings collection path.
	WithPath string

	// WithBootstrapLimit sets how many of the most recent records seed the
	// history.
	WithBootstrapLimit int

	// WithCapacity bounds the history; zero leaves it unbounded.
	WithCapacity int

	// WithRetry sets the policy used to re-establish a lost live
	// subscription.
	WithRetry struct{ retry.Policy }

	// WithMetrics records engine activity.
	WithMetrics struct{ *metrics.Metrics }

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Defaults for the engine options.
const (
	DefaultPath           = "device1/readings"
	DefaultBootstrapLimit = 10
	DefaultCapacity       = 1024
)

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.engine(o)
	}
}

func (o *Options) engine(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithPath) engine(opt *Options) {
	opt.Path = string(o)
}

func (o WithBootstrapLimit) engine(opt *Options) {
	opt.BootstrapLimit = int(o)
}

func (o WithCapacity) engine(opt *Options) {
	opt.Capacity = int(o)
}

func (o WithRetry) engine(opt *Options) {
	opt.Retry = o.Policy
}

func (o WithMetrics) engine(opt *Options) {
	opt.Metrics = o.Metrics
}

func (o withLogger) engine(opt *Options) {
	opt.Logger = o.Logger
}
