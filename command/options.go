// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package command

import (
	"log/slog"
	"time"

	"github.com/aquamon/aquamon/internal/options"
	"github.com/aquamon/aquamon/metrics"
)

type (
	// Option represents a single option for the dispatcher.
	Option interface{ dispatcher(*Options) }

	// Options are the resolved dispatcher options.
	Options struct {
		Path    string
		Timeout time.Duration
		Logger  *slog.Logger
		Metrics *metrics.Metrics
	}

	// WithPath sets the command path.
	WithPath string

	// WithTimeout bounds the wait for an acknowledgment; zero waits
	// indefinitely.
	WithTimeout time.Duration

	// WithMetrics records dispatch outcomes.
	WithMetrics struct{ *metrics.Metrics }

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Defaults for the dispatcher options.
const (
	DefaultPath    = "device1/command"
	DefaultTimeout = 30 * time.Second
)

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.dispatcher(o)
	}
}

func (o *Options) dispatcher(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithPath) dispatcher(opt *Options) {
	opt.Path = string(o)
}

func (o WithTimeout) dispatcher(opt *Options) {
	opt.Timeout = time.Duration(o)
}

func (o WithMetrics) dispatcher(opt *Options) {
	opt.Metrics = o.Metrics
}

func (o withLogger) dispatcher(opt *Options) {
	opt.Logger = o.Logger
}
