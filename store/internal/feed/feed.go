// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package feed

import "sync"

// Feed delivers values to a channel in order without ever blocking the
// producer; values queue until the consumer reads them.
type Feed[T any] struct {
	out  chan T
	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	mu     sync.Mutex
	queue  []T
	final  bool
	closed bool
}

// New starts a feed.
func New[T any]() *Feed[T] {
	f := &Feed[T]{
		out:  make(chan T),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

// C returns the consumer side of the feed.
func (f *Feed[T]) C() <-chan T {
	return f.out
}

// Done is closed once the consumer channel has been closed.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

// Push queues a value, reporting false if the feed no longer accepts values.
func (f *Feed[T]) Push(v T) bool {
	f.mu.Lock()
	if f.final || f.closed {
		f.mu.Unlock()
		return false
	}
	f.queue = append(f.queue, v)
	f.mu.Unlock()

	f.signal()
	return true
}

// Finish queues any final values and closes the channel once everything queued
// has been delivered.
func (f *Feed[T]) Finish(last ...T) {
	f.mu.Lock()
	if f.final || f.closed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, last...)
	f.final = true
	f.mu.Unlock()

	f.signal()
}

// Close discards anything still queued and closes the channel. It is safe to
// call more than once.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		f.queue = nil
		close(f.stop)
	}
}

func (f *Feed[T]) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Feed[T]) run() {
	defer close(f.done)
	defer close(f.out)

	var zero T
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		if len(f.queue) == 0 {
			final := f.final
			f.mu.Unlock()
			if final {
				return
			}
			select {
			case <-f.wake:
				continue
			case <-f.stop:
				return
			}
		}
		v := f.queue[0]
		f.queue[0] = zero
		f.queue = f.queue[1:]
		f.mu.Unlock()

		select {
		case f.out <- v:
		case <-f.stop:
			return
		}
	}
}
