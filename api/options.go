// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package api

import (
	"log/slog"

	"github.com/aquamon/aquamon/internal/options"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	// Option represents a single option for the server.
	Option interface{ server(*Options) }

	// Options are the resolved server options.
	Options struct {
		Gatherer prometheus.Gatherer
		Logger   *slog.Logger
	}

	// WithGatherer serves the gathered metrics on /metrics.
	WithGatherer struct{ prometheus.Gatherer }

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// WithLogger enables request logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.server(o)
	}
}

func (o *Options) server(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithGatherer) server(opt *Options) {
	opt.Gatherer = o.Gatherer
}

func (o withLogger) server(opt *Options) {
	opt.Logger = o.Logger
}
