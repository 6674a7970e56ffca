// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package memstore provides an in-process store.Store with the same event
// semantics as the relay, plus fault injection for tests.
package memstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/aquamon/aquamon/store"
	"github.com/aquamon/aquamon/store/errors"
	"github.com/aquamon/aquamon/store/internal/feed"
)

type (
	// Store is an in-memory store.Store. The zero value is not usable; call
	// New.
	Store struct {
		values   map[string][]byte
		children map[string]map[string][]byte
		watchers map[string]map[*watcher]struct{}
		faults   map[Op]error
		closed   bool
		mu       sync.Mutex
	}

	// Op names a store operation for fault injection.
	Op string

	watcher struct {
		children bool
		feed     *feed.Feed[store.Event]
	}
)

const (
	OpGet           Op = "get"
	OpSet           Op = "set"
	OpPut           Op = "put"
	OpLast          Op = "last"
	OpWatchValue    Op = "watch-value"
	OpWatchChildren Op = "watch-children"
)

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		values:   map[string][]byte{},
		children: map[string]map[string][]byte{},
		watchers: map[string]map[*watcher]struct{}{},
		faults:   map[Op]error{},
	}
}

// FailNext makes the next call of op return err.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// Disconnect terminates every live subscription as if the connection to the
// relay had dropped. Stored data is kept and new subscriptions succeed.
func (s *Store) Disconnect(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, ws := range s.watchers {
		for w := range ws {
			w.feed.Finish(store.Event{
				Path: path,
				Err: &errors.Unavailable{
					Op:   "watch",
					Path: path,
					Err:  cause,
				},
			})
		}
	}
	clear(s.watchers)
}

// Watchers returns the number of live subscriptions on path.
func (s *Store) Watchers(path string) int {
	p, err := store.NormalizePath(path)
	if err != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[p])
}

// Get implements store.Store.
func (s *Store) Get(
	ctx context.Context,
	path string,
) ([]byte, bool, error) {
	p, unlock, err := s.begin(ctx, OpGet, path)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	val, ok := s.values[p]
	return bytes.Clone(val), ok, nil
}

// Set implements store.Store.
func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	p, unlock, err := s.begin(ctx, OpSet, path)
	if err != nil {
		return err
	}
	defer unlock()

	s.values[p] = bytes.Clone(value)
	s.notify(p, false, store.Event{Path: p, Value: bytes.Clone(value)})
	return nil
}

// Put implements store.Store.
func (s *Store) Put(
	ctx context.Context,
	path, key string,
	value []byte,
) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	p, unlock, err := s.begin(ctx, OpPut, path)
	if err != nil {
		return err
	}
	defer unlock()

	kids, ok := s.children[p]
	if !ok {
		kids = map[string][]byte{}
		s.children[p] = kids
	}
	kids[key] = bytes.Clone(value)
	s.notify(p, true, store.Event{Path: p, Key: key, Value: bytes.Clone(value)})
	return nil
}

// Last implements store.Store.
func (s *Store) Last(
	ctx context.Context,
	path string,
	n int,
) ([]store.Record, error) {
	if n < 0 {
		return nil, errors.Argument{Name: "n", Value: n}
	}
	p, unlock, err := s.begin(ctx, OpLast, path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return store.Tail(s.sorted(p), n), nil
}

// WatchValue implements store.Store.
func (s *Store) WatchValue(
	ctx context.Context,
	path string,
) (<-chan store.Event, func(), error) {
	p, unlock, err := s.begin(ctx, OpWatchValue, path)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	w := s.register(p, false)
	if val, ok := s.values[p]; ok {
		w.feed.Push(store.Event{Path: p, Value: bytes.Clone(val)})
	}
	return w.feed.C(), s.release(p, w), nil
}

// WatchChildren implements store.Store. Existing children are replayed in key
// order before any new child.
func (s *Store) WatchChildren(
	ctx context.Context,
	path string,
) (<-chan store.Event, func(), error) {
	p, unlock, err := s.begin(ctx, OpWatchChildren, path)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	w := s.register(p, true)
	for _, rec := range s.sorted(p) {
		w.feed.Push(store.Event{Path: p, Key: rec.Key, Value: rec.Value})
	}
	return w.feed.C(), s.release(p, w), nil
}

// Close terminates all subscriptions; further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for path, ws := range s.watchers {
		for w := range ws {
			w.feed.Finish(store.Event{Path: path, Err: errors.ErrClosed})
		}
	}
	clear(s.watchers)
	return nil
}

// Common entry for every operation: validates the path, checks the context,
// the closed state and injected faults, and takes the lock.
func (s *Store) begin(
	ctx context.Context,
	op Op,
	path string,
) (string, func(), error) {
	p, err := store.NormalizePath(path)
	if err != nil {
		return "", nil, err
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", nil, errors.ErrClosed
	}
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		s.mu.Unlock()
		return "", nil, err
	}
	return p, s.mu.Unlock, nil
}

func (s *Store) sorted(path string) []store.Record {
	kids := s.children[path]
	recs := make([]store.Record, 0, len(kids))
	for k, v := range kids {
		recs = append(recs, store.Record{Key: k, Value: bytes.Clone(v)})
	}
	store.SortRecords(recs)
	return recs
}

func (s *Store) register(path string, children bool) *watcher {
	w := &watcher{children: children, feed: feed.New[store.Event]()}
	ws, ok := s.watchers[path]
	if !ok {
		ws = map[*watcher]struct{}{}
		s.watchers[path] = ws
	}
	ws[w] = struct{}{}
	return w
}

func (s *Store) release(path string, w *watcher) func() {
	return sync.OnceFunc(func() {
		s.mu.Lock()
		if ws, ok := s.watchers[path]; ok {
			delete(ws, w)
			if len(ws) == 0 {
				delete(s.watchers, path)
			}
		}
		s.mu.Unlock()
		w.feed.Close()
	})
}

// Must be called with the lock held so that delivery order matches write order.
func (s *Store) notify(path string, children bool, ev store.Event) {
	for w := range s.watchers[path] {
		if w.children == children {
			w.feed.Push(ev)
		}
	}
}
