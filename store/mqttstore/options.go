// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqttstore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/aquamon/aquamon/internal/options"
	"github.com/aquamon/aquamon/store/errors"
	"github.com/google/uuid"
)

type (
	// ConnectionProvider returns a net.Conn connected to the relay broker.
	ConnectionProvider func(context.Context) (net.Conn, error)

	// Option represents a single option for the store.
	Option interface{ store(*Options) }

	// Options are the resolved options for the store.
	Options struct {
		ClientID   string
		KeepAlive  uint16
		SettleTime time.Duration
		Logger     *slog.Logger
	}

	// WithClientID sets the MQTT client ID; a random one is used otherwise.
	WithClientID string

	// WithKeepAlive sets the MQTT keep-alive in seconds.
	WithKeepAlive uint16

	// WithSettleTime sets the quiet period used to decide that all retained
	// values for a point read or bounded query have arrived.
	WithSettleTime time.Duration

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

const (
	defaultKeepAlive  = 30
	defaultSettleTime = 250 * time.Millisecond
)

// TCPConnection connects to the relay over plain TCP.
func TCPConnection(hostname string, port int) ConnectionProvider {
	addr := net.JoinHostPort(hostname, fmt.Sprint(port))
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &errors.Unavailable{Op: "dial", Path: addr, Err: err}
		}
		return conn, nil
	}
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.store(o)
	}
}

func (o *Options) store(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o *Options) defaults() {
	if o.ClientID == "" {
		o.ClientID = "aquamon-" + uuid.NewString()
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.SettleTime <= 0 {
		o.SettleTime = defaultSettleTime
	}
}

func (o WithClientID) store(opt *Options) {
	opt.ClientID = string(o)
}

func (o WithKeepAlive) store(opt *Options) {
	opt.KeepAlive = uint16(o)
}

func (o WithSettleTime) store(opt *Options) {
	opt.SettleTime = time.Duration(o)
}

func (o withLogger) store(opt *Options) {
	opt.Logger = o.Logger
}
