// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package command

import (
	"context"
	"sync"
	"sync/atomic"
)

type (
	// Pending is one in-flight dispatch. It resolves exactly once.
	Pending struct {
		Command string
		ID      string

		state atomic.Int32
		done  chan struct{}
		err   error
		once  sync.Once
	}

	// State is the progress of a dispatch.
	State int32
)

// Dispatch states, in order.
const (
	Idle State = iota
	Writing
	AwaitingAck
	Acknowledged
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Writing:
		return "writing"
	case AwaitingAck:
		return "awaiting-ack"
	case Acknowledged:
		return "acknowledged"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func newPending(cmd, id string) *Pending {
	return &Pending{Command: cmd, ID: id, done: make(chan struct{})}
}

// Done is closed when the dispatch resolves.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the failure of a resolved dispatch, or nil if it was
// acknowledged or is still in flight.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the dispatch resolves and returns its error. If ctx ends
// first, Wait returns the context's cause and the dispatch continues.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// State returns the current state of the dispatch.
func (p *Pending) State() State {
	return State(p.state.Load())
}

func (p *Pending) set(s State) {
	p.state.Store(int32(s))
}

// Resolve the dispatch; only the first call has any effect.
func (p *Pending) resolve(err error) bool {
	resolved := false
	p.once.Do(func() {
		p.err = err
		if err == nil {
			p.set(Acknowledged)
		} else {
			p.set(Failed)
		}
		close(p.done)
		resolved = true
	})
	return resolved
}
