// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package telemetry keeps a live, ordered history of device readings in sync
// with the readings collection of a store.
package telemetry

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/aquamon/aquamon/internal/log"
	"github.com/aquamon/aquamon/metrics"
	"github.com/aquamon/aquamon/retry"
	"github.com/aquamon/aquamon/store"
	storeerr "github.com/aquamon/aquamon/store/errors"
)

type (
	// Engine follows the readings collection. It seeds its history from the
	// most recent records and appends every child added afterwards.
	Engine struct {
		store   store.Store
		path    string
		opts    Options
		log     logger
		metrics *metrics.Metrics

		history   *History
		latest    *Reading
		floor     int64
		hasFloor  bool
		connected bool
		mu        sync.RWMutex

		updates chan struct{}
		ready   chan struct{}
		ready1  sync.Once

		cancel context.CancelCauseFunc
		done   chan struct{}
		state  int
		life   sync.Mutex
	}

	subscription struct {
		events  <-chan store.Event
		release func()
	}

	snapshot struct {
		recs  []store.Record
		err   error
		first bool
	}
)

const (
	idle = iota
	running
	closed
)

var (
	// ErrStarted is returned when starting an engine twice.
	ErrStarted = errors.New("telemetry engine already started")

	// ErrClosed is returned when starting a closed engine, and is the cause
	// of the engine context after Close.
	ErrClosed = errors.New("telemetry engine closed")
)

// New creates an engine over the given store. It does nothing until started.
func New(s store.Store, opt ...Option) (*Engine, error) {
	opts := Options{
		Path:           DefaultPath,
		BootstrapLimit: DefaultBootstrapLimit,
		Capacity:       DefaultCapacity,
	}
	opts.Apply(opt)

	path, err := store.NormalizePath(opts.Path)
	if err != nil {
		return nil, err
	}
	if opts.BootstrapLimit < 0 {
		return nil, storeerr.Argument{
			Name:  "BootstrapLimit",
			Value: opts.BootstrapLimit,
		}
	}
	if opts.Capacity < 0 {
		return nil, storeerr.Argument{Name: "Capacity", Value: opts.Capacity}
	}
	if opts.Retry == nil {
		opts.Retry = &retry.ExponentialBackoff{Logger: opts.Logger}
	}

	return &Engine{
		store:   s,
		path:    path,
		opts:    opts,
		log:     logger{log.Wrap(opts.Logger)},
		metrics: opts.Metrics,
		history: NewHistory(opts.Capacity),
		updates: make(chan struct{}, 1),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start opens the live subscription and then bootstraps the history in the
// background. The engine runs until ctx is cancelled or Close is called.
func (e *Engine) Start(ctx context.Context) error {
	e.life.Lock()
	defer e.life.Unlock()

	switch e.state {
	case running:
		return ErrStarted
	case closed:
		return ErrClosed
	}
	e.state = running

	ctx, e.cancel = context.WithCancelCause(ctx)
	go e.run(ctx)
	return nil
}

// Close stops following the store and releases the live subscription.
func (e *Engine) Close() {
	e.life.Lock()
	defer e.life.Unlock()

	prev := e.state
	e.state = closed
	if prev != running {
		return
	}

	e.cancel(ErrClosed)
	<-e.done
	e.setConnected(false)
	e.log.stopped(context.Background())
}

// Latest returns the most recently received reading, if any.
func (e *Engine) Latest() (Reading, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest == nil {
		return Reading{}, false
	}
	return *e.latest, true
}

// History returns a snapshot of the history, oldest first.
func (e *Engine) History() []Reading {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.Snapshot()
}

// Connected reports whether the engine has a healthy view of the store: true
// after a successful bootstrap or live event, false after a subscription
// failure or Close.
func (e *Engine) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Updates signals after any change to the latest reading or history. Signals
// coalesce; receivers should re-read state rather than count them.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// Ready is closed once the first bootstrap attempt has completed, whether or
// not it succeeded.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	// The live subscription opens before the snapshot is requested so that
	// nothing added in between is lost; overlap is resolved by key in merge.
	sub, err := e.subscribe(ctx)
	if err != nil {
		e.log.Err(ctx, "live subscription failed", err)
	}
	boot := e.bootstrap(ctx, true)

	for {
		if sub != nil {
			err = e.follow(ctx, sub, boot)
			sub.release()
		} else {
			err = e.await(ctx, boot, nil)
		}
		boot = nil
		if ctx.Err() != nil {
			return
		}
		if sub != nil {
			e.setConnected(false)
			e.log.Err(ctx, "live subscription lost", err)
		}

		err = e.opts.Retry.Start(ctx, "subscribe", func(
			ctx context.Context,
		) (bool, error) {
			sub, err = e.subscribe(ctx)
			return true, err
		})
		if err != nil {
			if ctx.Err() == nil {
				e.log.Err(ctx, "giving up on live subscription", err)
			}
			return
		}
		e.metrics.Resubscribed()
		e.setConnected(true)
		e.log.resubscribed(ctx, e.path)

		// Children added during the outage are replayed by the new
		// subscription in no particular order; resync against a fresh
		// snapshot so they are merged in key order.
		boot = e.bootstrap(ctx, false)
	}
}

func (e *Engine) subscribe(ctx context.Context) (*subscription, error) {
	events, release, err := e.store.WatchChildren(ctx, e.path)
	if err != nil {
		return nil, err
	}
	return &subscription{events, release}, nil
}

// Request the bounded snapshot in the background. The first one is limited to
// the bootstrap window; a resync reads as far back as the history can hold.
func (e *Engine) bootstrap(ctx context.Context, first bool) <-chan snapshot {
	n := e.opts.BootstrapLimit
	if !first {
		n = math.MaxInt32
		if e.opts.Capacity > 0 {
			n = max(e.opts.Capacity, e.opts.BootstrapLimit)
		}
	}

	res := make(chan snapshot, 1)
	go func() {
		recs, err := e.store.Last(ctx, e.path, n)
		res <- snapshot{recs, err, first}
	}()
	return res
}

// Apply live events until the subscription ends. Events arriving before the
// snapshot are held back and merged with it.
func (e *Engine) follow(
	ctx context.Context,
	sub *subscription,
	boot <-chan snapshot,
) error {
	var pending []store.Event
	for {
		select {
		case ev, ok := <-sub.events:
			var err error
			switch {
			case !ok:
				err = &storeerr.Unavailable{Op: "watch", Path: e.path}
			case ev.Err != nil:
				err = ev.Err
			case boot != nil:
				pending = append(pending, ev)
				continue
			default:
				e.apply(ctx, ev)
				continue
			}
			if boot != nil {
				// Do not lose the snapshot along with the subscription.
				_ = e.await(ctx, boot, pending)
			}
			return err

		case res := <-boot:
			boot = nil
			e.merge(ctx, res, pending)
			pending = nil

		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// Wait for an outstanding snapshot, if any, and merge it.
func (e *Engine) await(
	ctx context.Context,
	boot <-chan snapshot,
	pending []store.Event,
) error {
	if boot == nil {
		return nil
	}
	select {
	case res := <-boot:
		e.merge(ctx, res, pending)
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Merge the snapshot with whatever the live subscription delivered in the
// meantime, in key order. The first snapshot seeds the history.
func (e *Engine) merge(ctx context.Context, res snapshot, pending []store.Event) {
	if res.first {
		defer e.ready1.Do(func() { close(e.ready) })
	}

	if res.err != nil {
		e.log.Err(ctx, "bootstrap failed", res.err)
		if res.first {
			// Held-back events cannot be told apart from replayed children
			// of the failed snapshot; they only raise the floor, so that
			// just children added from here on reach the history.
			e.mu.Lock()
			for _, ev := range pending {
				e.raise(ev.Key, 1)
			}
			e.mu.Unlock()
			return
		}
	}

	batch := make([]store.Record, 0, len(res.recs)+len(pending))
	batch = append(batch, res.recs...)
	for _, ev := range pending {
		batch = append(batch, store.Record{Key: ev.Key, Value: ev.Value})
	}
	slices.SortStableFunc(batch, func(a, b store.Record) int {
		return store.CompareKeys(a.Key, b.Key)
	})

	// A full first window means older children exist that the history
	// does not hold; their replays must not be appended.
	if res.first && res.err == nil && e.opts.BootstrapLimit > 0 &&
		len(res.recs) == e.opts.BootstrapLimit {
		e.mu.Lock()
		e.raise(res.recs[0].Key, 0)
		e.mu.Unlock()
	}

	var added int
	for i, rec := range batch {
		if i > 0 && rec.Key == batch[i-1].Key {
			continue
		}
		if n, ok := e.insert(ctx, rec.Key, rec.Value); ok {
			added++
			if !res.first {
				e.metrics.ReadingReceived(n)
				e.log.reading(ctx, rec.Key)
			}
		}
	}

	if res.err == nil {
		e.setConnected(true)
	}
	if res.first {
		e.mu.RLock()
		n := e.history.Len()
		e.mu.RUnlock()
		e.metrics.HistoryReplaced(n)
		e.log.bootstrapped(ctx, e.path, n)
	} else if res.err == nil {
		e.log.resynced(ctx, e.path, added)
	}
	if added > 0 || res.first {
		e.notify()
	}
}

// Apply one live event.
func (e *Engine) apply(ctx context.Context, ev store.Event) {
	e.setConnected(true)

	n, ok := e.insert(ctx, ev.Key, ev.Value)
	if !ok {
		return
	}
	e.metrics.ReadingReceived(n)
	e.log.reading(ctx, ev.Key)
	e.notify()
}

// Append one child as the newest reading, unless it is held already or lies
// below the floor. Arrival order wins; a late but unseen key still becomes the
// latest reading. Returns the history length after appending.
func (e *Engine) insert(
	ctx context.Context,
	key string,
	value []byte,
) (int, bool) {
	ts, err := ParseKey(key)
	if err != nil {
		e.metrics.ReadingDiscarded(metrics.Malformed)
		e.log.Err(ctx, "skipping malformed record", err)
		return 0, false
	}

	e.mu.Lock()
	if e.seen(ts) {
		e.mu.Unlock()
		e.metrics.ReadingDiscarded(metrics.Duplicate)
		e.log.duplicate(ctx, key)
		return 0, false
	}

	r, err := ParseRecord(key, value)
	if err != nil {
		e.mu.Unlock()
		e.metrics.ReadingDiscarded(metrics.Malformed)
		e.log.Err(ctx, "skipping malformed record", err)
		return 0, false
	}

	e.history.Append(r)
	e.latest = &r
	n := e.history.Len()
	e.mu.Unlock()
	return n, true
}

// Must be called with mu held.
func (e *Engine) seen(ts time.Time) bool {
	if e.hasFloor && ts.Unix() < e.floor {
		return true
	}
	if last, ok := e.history.Evicted(); ok && !ts.After(last) {
		return true
	}
	return e.history.Has(ts)
}

// Raise the floor to key plus skip seconds. Must be called with mu held.
func (e *Engine) raise(key string, skip int64) {
	ts, err := ParseKey(key)
	if err != nil {
		return
	}
	if f := ts.Unix() + skip; !e.hasFloor || f > e.floor {
		e.floor, e.hasFloor = f, true
	}
}

func (e *Engine) setConnected(ok bool) {
	e.mu.Lock()
	changed := e.connected != ok
	e.connected = ok
	e.mu.Unlock()

	if changed {
		e.metrics.Connected(ok)
		e.notify()
	}
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}
