// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package device

import (
	"log/slog"
	"time"

	"github.com/aquamon/aquamon/command"
	"github.com/aquamon/aquamon/internal/options"
	"github.com/aquamon/aquamon/retry"
	"github.com/aquamon/aquamon/telemetry"
)

type (
	// Option represents a single option for the simulator.
	Option interface{ simulator(*Options) }

	// Options are the resolved simulator options.
	Options struct {
		ReadingsPath string
		CommandPath  string
		Interval     time.Duration
		AckDelay     time.Duration
		Retry        retry.Policy
		Logger       *slog.Logger
	}

	// WithReadingsPath sets the collection readings are added to.
	WithReadingsPath string

	// WithCommandPath sets the path commands arrive on.
	WithCommandPath string

	// WithInterval sets the time between readings; zero disables readings.
	WithInterval time.Duration

	// WithAckDelay sets how long the device takes to carry out a command.
	WithAckDelay time.Duration

	// WithRetry sets the policy used to re-establish the command watch.
	WithRetry struct{ retry.Policy }

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Defaults for the simulator options.
const (
	DefaultInterval = 5 * time.Second
	DefaultAckDelay = time.Second
)

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func defaults() Options {
	return Options{
		ReadingsPath: telemetry.DefaultPath,
		CommandPath:  command.DefaultPath,
		Interval:     DefaultInterval,
		AckDelay:     DefaultAckDelay,
	}
}

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.simulator(o)
	}
}

func (o *Options) simulator(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithReadingsPath) simulator(opt *Options) {
	opt.ReadingsPath = string(o)
}

func (o WithCommandPath) simulator(opt *Options) {
	opt.CommandPath = string(o)
}

func (o WithInterval) simulator(opt *Options) {
	opt.Interval = time.Duration(o)
}

func (o WithAckDelay) simulator(opt *Options) {
	opt.AckDelay = time.Duration(o)
}

func (o WithRetry) simulator(opt *Options) {
	opt.Retry = o.Policy
}

func (o withLogger) simulator(opt *Options) {
	opt.Logger = o.Logger
}
