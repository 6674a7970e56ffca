// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package device plays the remote water-quality device against a store: it
// adds a reading on every tick and acknowledges every command it is sent.
package device

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aquamon/aquamon/command"
	"github.com/aquamon/aquamon/internal/log"
	"github.com/aquamon/aquamon/internal/wallclock"
	"github.com/aquamon/aquamon/retry"
	"github.com/aquamon/aquamon/store"
	storeerr "github.com/aquamon/aquamon/store/errors"
	"github.com/aquamon/aquamon/telemetry"
)

// Simulator is a fake device.
type Simulator struct {
	store store.Store
	opts  Options
	log   log.Logger

	last    telemetry.Reading
	handled []string
	mu      sync.Mutex
}

// New creates a simulator over the given store.
func New(s store.Store, opt ...Option) *Simulator {
	opts := defaults()
	opts.Apply(opt)
	if opts.Retry == nil {
		opts.Retry = &retry.ExponentialBackoff{Logger: opts.Logger}
	}

	return &Simulator{
		store: s,
		opts:  opts,
		log:   log.Wrap(opts.Logger),
		last: telemetry.Reading{
			Turbidity:       1.2,
			PH:              7.1,
			DissolvedOxygen: 8.4,
			TDS:             320,
		},
	}
}

// Run produces readings and answers commands until ctx ends.
func (d *Simulator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.produce(ctx)
	}()

	defer wg.Wait()

	// Each outage gets a fresh backoff, so a long healthy watch does not
	// leave the next recovery waiting at the longest interval.
	for {
		var events <-chan store.Event
		var release func()
		err := d.opts.Retry.Start(ctx, "commands", func(
			ctx context.Context,
		) (bool, error) {
			var err error
			events, release, err = d.store.WatchValue(ctx, d.opts.CommandPath)
			return true, err
		})
		if err != nil {
			return err
		}

		err = d.answer(ctx, events)
		release()
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		d.log.Err(ctx, "command watch lost", err)
	}
}

// Publish adds r under its timestamp key.
func (d *Simulator) Publish(ctx context.Context, r telemetry.Reading) error {
	value, err := r.Record()
	if err != nil {
		return err
	}
	if err := d.store.Put(ctx, d.opts.ReadingsPath, r.Key(), value); err != nil {
		return err
	}
	d.log.Log(ctx, slog.LevelDebug, "reading published",
		slog.String("key", r.Key()))
	return nil
}

// Handled returns the commands carried out so far, in order.
func (d *Simulator) Handled() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.handled...)
}

func (d *Simulator) produce(ctx context.Context) {
	if d.opts.Interval <= 0 {
		return
	}

	t := wallclock.Instance.NewTicker(d.opts.Interval)
	defer t.Stop()

	for {
		select {
		case now := <-t.C():
			r := d.next(now)
			if err := d.Publish(ctx, r); err != nil {
				d.log.Err(ctx, "publishing reading failed", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Step each measurement by a small random amount. Keys are whole seconds, so
// timestamps are forced to increase by at least one second.
func (d *Simulator) next(now time.Time) telemetry.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts := now.UTC().Truncate(time.Second)
	if !ts.After(d.last.Timestamp) {
		ts = d.last.Timestamp.Add(time.Second)
	}

	// #nosec G404
	walk := func(v, step, lo, hi float64) float64 {
		return min(max(v+(rand.Float64()*2-1)*step, lo), hi)
	}
	d.last = telemetry.Reading{
		Turbidity:       walk(d.last.Turbidity, 0.2, 0, 50),
		PH:              walk(d.last.PH, 0.05, 0, 14),
		DissolvedOxygen: walk(d.last.DissolvedOxygen, 0.1, 0, 20),
		TDS:             walk(d.last.TDS, 5, 0, 2000),
		Timestamp:       ts,
	}
	return d.last
}

// Acknowledge each command on the watch until it ends.
func (d *Simulator) answer(ctx context.Context, events <-chan store.Event) error {
	for {
		select {
		case ev, ok := <-events:
			switch {
			case !ok:
				return &storeerr.Unavailable{
					Op:   "watch",
					Path: d.opts.CommandPath,
				}
			case ev.Err != nil:
				return ev.Err
			}

			cmd := string(ev.Value)
			if cmd == "" || cmd == command.AckSentinel {
				continue
			}
			if err := d.ack(ctx, cmd); err != nil {
				d.log.Err(ctx, "acknowledging command failed", err,
					slog.String("command", cmd))
			}

		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

func (d *Simulator) ack(ctx context.Context, cmd string) error {
	d.log.Log(ctx, slog.LevelInfo, "command received",
		slog.String("command", cmd))

	select {
	case <-wallclock.Instance.After(d.opts.AckDelay):
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	d.mu.Lock()
	d.handled = append(d.handled, cmd)
	d.mu.Unlock()

	return d.store.Set(ctx, d.opts.CommandPath, []byte(command.AckSentinel))
}
