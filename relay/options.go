// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package relay

import (
	"log/slog"

	"github.com/aquamon/aquamon/internal/options"
)

type (
	// Option represents a single option for the relay.
	Option interface{ relay(*Options) }

	// Options are the resolved relay options.
	Options struct {
		ListenerID string
		Logger     *slog.Logger
	}

	// WithListenerID names the TCP listener in broker logs.
	WithListenerID string

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// WithLogger enables logging with the provided slog logger. The same logger is
// handed to the broker itself.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.relay(o)
	}
}

func (o *Options) relay(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithListenerID) relay(opt *Options) {
	opt.ListenerID = string(o)
}

func (o withLogger) relay(opt *Options) {
	opt.Logger = o.Logger
}
