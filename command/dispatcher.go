// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package command sends actuation commands to the device through the store
// and resolves each one when the device acknowledges it.
//
// A dispatch writes the command token to the command path and then watches
// that path until the device replaces the token with AckSentinel. Every token
// shares the one command path, so at most one dispatch is in flight at a time.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aquamon/aquamon/internal/log"
	"github.com/aquamon/aquamon/internal/wallclock"
	"github.com/aquamon/aquamon/metrics"
	"github.com/aquamon/aquamon/store"
	"github.com/google/uuid"
)

type (
	// Dispatcher issues commands over a store.
	Dispatcher struct {
		store   store.Store
		path    string
		opts    Options
		log     logger
		metrics *metrics.Metrics

		slot much
		busy map[string]int
		mu   sync.Mutex

		life   context.Context
		cancel context.CancelCauseFunc
		wg     sync.WaitGroup
	}

	// Channel is a handle for one command token, for callers that expose one
	// control per command.
	Channel struct {
		d     *Dispatcher
		token string
	}

	// A mutex-like construct built on a channel of size 1.
	much chan struct{}
)

// AckSentinel is the value the device writes to acknowledge a command.
const AckSentinel = "ack"

// ErrClosed is the cause of dispatches cancelled by Close.
var ErrClosed = errors.New("dispatcher closed")

// New creates a dispatcher over the given store.
func New(s store.Store, opt ...Option) (*Dispatcher, error) {
	opts := Options{
		Path:    DefaultPath,
		Timeout: DefaultTimeout,
	}
	opts.Apply(opt)

	path, err := store.NormalizePath(opts.Path)
	if err != nil {
		return nil, err
	}
	if opts.Timeout < 0 {
		return nil, &Error{
			Message: "timeout cannot be negative",
			Kind:    Argument,
		}
	}

	life, cancel := context.WithCancelCause(context.Background())
	return &Dispatcher{
		store:   s,
		path:    path,
		opts:    opts,
		log:     logger{log.Wrap(opts.Logger)},
		metrics: opts.Metrics,
		slot:    make(much, 1),
		busy:    map[string]int{},
		life:    life,
		cancel:  cancel,
	}, nil
}

// Dispatch starts sending the command and returns without waiting. The
// returned Pending resolves when the device acknowledges, the write or watch
// fails, the timeout expires or ctx ends. A dispatch attempted while another
// is in flight fails immediately with a Busy error.
func (d *Dispatcher) Dispatch(ctx context.Context, token string) *Pending {
	p := newPending(token, uuid.NewString())

	if err := d.validate(token); err != nil {
		p.resolve(err)
		return p
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.life.Err() != nil {
		p.resolve(&Error{
			Message: "dispatcher closed",
			Kind:    Cancelled,
			Command: token,
			Nested:  ErrClosed,
		})
		return p
	}
	if !d.slot.TryLock() {
		d.metrics.Dispatched(token, metrics.Busy, 0)
		d.log.busy(ctx, token)
		p.resolve(&Error{
			Message: "another command is in flight",
			Kind:    Busy,
			Command: token,
		})
		return p
	}

	d.busy[token]++
	d.wg.Add(1)
	go d.run(ctx, p)
	return p
}

// Send dispatches the command and waits for it to resolve.
func (d *Dispatcher) Send(ctx context.Context, token string) error {
	return d.Dispatch(ctx, token).Wait(ctx)
}

// Busy reports whether a dispatch of token is in flight.
func (d *Dispatcher) Busy(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy[token] > 0
}

// AnyBusy reports whether any dispatch is in flight. Since all commands share
// the command path, callers should gate every control on this.
func (d *Dispatcher) AnyBusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.busy {
		if n > 0 {
			return true
		}
	}
	return false
}

// BusyTokens returns the tokens with a dispatch in flight.
func (d *Dispatcher) BusyTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var tokens []string
	for t, n := range d.busy {
		if n > 0 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Channel returns the handle for token.
func (d *Dispatcher) Channel(token string) *Channel {
	return &Channel{d, token}
}

// Close cancels any in-flight dispatch and waits for it to resolve.
// Subsequent dispatches fail with a Cancelled error.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.cancel(ErrClosed)
	d.mu.Unlock()
	d.wg.Wait()
}

// Dispatch starts sending the channel's command.
func (c *Channel) Dispatch(ctx context.Context) *Pending {
	return c.d.Dispatch(ctx, c.token)
}

// Send dispatches the channel's command and waits for it to resolve.
func (c *Channel) Send(ctx context.Context) error {
	return c.d.Send(ctx, c.token)
}

// Busy reports whether the channel's command is in flight.
func (c *Channel) Busy() bool {
	return c.d.Busy(c.token)
}

// Token returns the channel's command token.
func (c *Channel) Token() string {
	return c.token
}

func (d *Dispatcher) validate(token string) error {
	switch token {
	case "":
		return &Error{
			Message: "command token cannot be empty",
			Kind:    Argument,
		}
	case AckSentinel:
		return &Error{
			Message: fmt.Sprintf("%q is reserved for acknowledgment", token),
			Kind:    Argument,
			Command: token,
		}
	default:
		return nil
	}
}

func (d *Dispatcher) run(ctx context.Context, p *Pending) {
	defer d.wg.Done()

	start := wallclock.Instance.Now()
	err := d.attempt(ctx, p)

	// Clear busy before resolving, so that anyone woken by the resolution
	// sees the command path as free.
	d.mu.Lock()
	d.busy[p.Command]--
	if d.busy[p.Command] == 0 {
		delete(d.busy, p.Command)
	}
	d.slot.Unlock()
	d.mu.Unlock()

	p.resolve(err)

	elapsed := wallclock.Instance.Now().Sub(start)
	d.metrics.Dispatched(p.Command, outcome(err), elapsed)
	if err != nil {
		d.log.Err(ctx, "command failed", err)
	} else {
		d.log.acknowledged(ctx, p.Command, p.ID, elapsed)
	}
}

// Write the command, then watch for the acknowledgment.
func (d *Dispatcher) attempt(ctx context.Context, p *Pending) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(d.life, func() { cancel(ErrClosed) })
	defer stop()

	if d.opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = wallclock.Instance.WithTimeoutCause(
			ctx,
			d.opts.Timeout,
			&Error{
				Message:      fmt.Sprintf("command %q not acknowledged", p.Command),
				Kind:         Timeout,
				Command:      p.Command,
				TimeoutValue: d.opts.Timeout,
			},
		)
		defer cancelTimeout()
	}

	p.set(Writing)
	if err := d.store.Set(ctx, d.path, []byte(p.Command)); err != nil {
		if ctx.Err() != nil {
			return d.ended(ctx, p)
		}
		return &Error{
			Message: fmt.Sprintf("writing command %q", p.Command),
			Kind:    WriteFailed,
			Command: p.Command,
			Nested:  err,
		}
	}
	d.log.written(ctx, p.Command, p.ID)

	p.set(AwaitingAck)
	events, release, err := d.store.WatchValue(ctx, d.path)
	if err != nil {
		if ctx.Err() != nil {
			return d.ended(ctx, p)
		}
		return &Error{
			Message: fmt.Sprintf("watching for acknowledgment of %q", p.Command),
			Kind:    WatchFailed,
			Command: p.Command,
			Nested:  err,
		}
	}
	defer release()

	for {
		select {
		case ev, ok := <-events:
			if !ok || ev.Err != nil {
				return &Error{
					Message: fmt.Sprintf(
						"lost watch for acknowledgment of %q", p.Command,
					),
					Kind:    WatchFailed,
					Command: p.Command,
					Nested:  ev.Err,
				}
			}
			if string(ev.Value) == AckSentinel {
				return nil
			}
			d.log.ignored(ctx, p.Command, string(ev.Value))

		case <-ctx.Done():
			return d.ended(ctx, p)
		}
	}
}

// Translate the end of the dispatch context into a dispatch error.
func (d *Dispatcher) ended(ctx context.Context, p *Pending) error {
	cause := context.Cause(ctx)
	if e, ok := cause.(*Error); ok {
		return e
	}
	return &Error{
		Message: fmt.Sprintf("command %q cancelled", p.Command),
		Kind:    Cancelled,
		Command: p.Command,
		Nested:  cause,
	}
}

func outcome(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		if err == nil {
			return metrics.Acknowledged
		}
		return metrics.Failed
	}
	switch e.Kind {
	case Timeout:
		return metrics.TimedOut
	case Cancelled:
		return metrics.Cancelled
	case Busy:
		return metrics.Busy
	default:
		return metrics.Failed
	}
}

// TryLock takes the slot without waiting.
func (mc much) TryLock() bool {
	select {
	case mc <- struct{}{}:
		return true
	default:
		return false
	}
}

func (mc much) Unlock() {
	<-mc
}
