// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package command_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aquamon/aquamon/command"
	"github.com/aquamon/aquamon/store"
	storeerr "github.com/aquamon/aquamon/store/errors"
	"github.com/aquamon/aquamon/store/memstore"
	"github.com/stretchr/testify/require"
)

const path = "/device1/command"

// Store that counts acknowledgment watches and can play an instant device.
type spyStore struct {
	store.Store
	watches atomic.Int32
	instant bool
}

func (s *spyStore) Set(ctx context.Context, p string, value []byte) error {
	if err := s.Store.Set(ctx, p, value); err != nil {
		return err
	}
	if s.instant {
		return s.Store.Set(ctx, p, []byte(command.AckSentinel))
	}
	return nil
}

func (s *spyStore) WatchValue(
	ctx context.Context,
	p string,
) (<-chan store.Event, func(), error) {
	s.watches.Add(1)
	return s.Store.WatchValue(ctx, p)
}

func newDispatcher(
	t *testing.T,
	s store.Store,
	opt ...command.Option,
) *command.Dispatcher {
	t.Helper()
	d, err := command.New(s, append(
		[]command.Option{command.WithPath(path)},
		opt...,
	)...)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func awaitingAck(t *testing.T, s *memstore.Store, p *command.Pending) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.State() == command.AwaitingAck && s.Watchers(path) == 1
	}, time.Second, time.Millisecond)
}

func resolved(t *testing.T, p *command.Pending) error {
	t.Helper()
	select {
	case <-p.Done():
		return p.Err()
	case <-time.After(2 * time.Second):
		require.FailNow(t, "dispatch did not resolve")
		return nil
	}
}

func kind(t *testing.T, err error) command.Kind {
	t.Helper()
	var e *command.Error
	require.ErrorAs(t, err, &e)
	return e.Kind
}

func set(t *testing.T, s store.Store, value string) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), path, []byte(value)))
}

func TestAcknowledged(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	d := newDispatcher(t, s)

	p := d.Dispatch(ctx, "fill")
	require.Equal(t, "fill", p.Command)
	require.NotEmpty(t, p.ID)
	require.True(t, d.Busy("fill"))
	require.True(t, d.AnyBusy())
	require.False(t, d.Busy("drain"))
	require.Equal(t, []string{"fill"}, d.BusyTokens())

	awaitingAck(t, s, p)
	val, ok, err := s.Get(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fill", string(val))

	set(t, s, command.AckSentinel)
	require.NoError(t, resolved(t, p))
	require.Equal(t, command.Acknowledged, p.State())
	require.False(t, d.Busy("fill"))
	require.False(t, d.AnyBusy())
	require.Empty(t, d.BusyTokens())
	require.Zero(t, s.Watchers(path))

	// A later acknowledgment has nothing left to resolve.
	set(t, s, command.AckSentinel)
	require.NoError(t, p.Err())
	require.Equal(t, command.Acknowledged, p.State())
}

func TestNonAckIgnored(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	d := newDispatcher(t, s)

	p := d.Dispatch(ctx, "fill")
	awaitingAck(t, s, p)

	set(t, s, "pending")
	set(t, s, "drain")
	time.Sleep(50 * time.Millisecond)

	select {
	case <-p.Done():
		require.Fail(t, "resolved without acknowledgment")
	default:
	}
	require.True(t, d.Busy("fill"))
	require.Equal(t, command.AwaitingAck, p.State())

	set(t, s, command.AckSentinel)
	require.NoError(t, resolved(t, p))
}

func TestWriteFailure(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	s := &spyStore{Store: mem}
	d := newDispatcher(t, s)

	cause := errors.New("permission denied")
	mem.FailNext(memstore.OpSet, cause)

	p := d.Dispatch(ctx, "fill")
	err := resolved(t, p)
	require.Equal(t, command.WriteFailed, kind(t, err))
	require.ErrorIs(t, err, cause)
	require.Equal(t, command.Failed, p.State())
	require.False(t, d.Busy("fill"))
	require.Zero(t, s.watches.Load())

	// The failure is retryable.
	s.instant = true
	require.NoError(t, d.Send(ctx, "fill"))
	require.Equal(t, int32(1), s.watches.Load())
}

func TestTimeout(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	d := newDispatcher(t, s, command.WithTimeout(50*time.Millisecond))

	p := d.Dispatch(ctx, "drain")
	err := resolved(t, p)
	require.Equal(t, command.Timeout, kind(t, err))

	var e *command.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "drain", e.Command)
	require.Equal(t, 50*time.Millisecond, e.TimeoutValue)

	require.False(t, d.Busy("drain"))
	require.Zero(t, s.Watchers(path))
}

func TestNoTimeout(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	d := newDispatcher(t, s, command.WithTimeout(0))

	p := d.Dispatch(ctx, "fill")
	awaitingAck(t, s, p)
	time.Sleep(50 * time.Millisecond)
	require.True(t, d.Busy("fill"))

	set(t, s, command.AckSentinel)
	require.NoError(t, resolved(t, p))
}

func TestBusy(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	d := newDispatcher(t, s)

	fill := d.Dispatch(ctx, "fill")
	awaitingAck(t, s, fill)

	drain := d.Dispatch(ctx, "drain")
	err := resolved(t, drain)
	require.Equal(t, command.Busy, kind(t, err))
	require.False(t, d.Busy("drain"))
	require.True(t, d.Busy("fill"))

	again := d.Dispatch(ctx, "fill")
	require.Equal(t, command.Busy, kind(t, resolved(t, again)))

	set(t, s, command.AckSentinel)
	require.NoError(t, resolved(t, fill))

	drain = d.Dispatch(ctx, "drain")
	awaitingAck(t, s, drain)
	set(t, s, command.AckSentinel)
	require.NoError(t, resolved(t, drain))
}

func TestAckBeforeWatch(t *testing.T) {
	s := &spyStore{Store: memstore.New(), instant: true}
	d := newDispatcher(t, s)

	require.NoError(t, d.Send(context.Background(), "fill"))
	require.False(t, d.AnyBusy())
}

func TestCancelled(t *testing.T) {
	s := memstore.New()
	d := newDispatcher(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	p := d.Dispatch(ctx, "fill")
	awaitingAck(t, s, p)
	cancel()

	err := resolved(t, p)
	require.Equal(t, command.Cancelled, kind(t, err))
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, d.Busy("fill"))
	require.Zero(t, s.Watchers(path))
}

func TestWatchLost(t *testing.T) {
	s := memstore.New()
	d := newDispatcher(t, s)

	p := d.Dispatch(context.Background(), "fill")
	awaitingAck(t, s, p)
	s.Disconnect(errors.New("connection reset"))

	err := resolved(t, p)
	require.Equal(t, command.WatchFailed, kind(t, err))
	require.ErrorIs(t, err, storeerr.ErrUnavailable)
	require.False(t, d.Busy("fill"))
}

func TestWatchFailure(t *testing.T) {
	s := memstore.New()
	d := newDispatcher(t, s)

	s.FailNext(memstore.OpWatchValue, errors.New("quota exceeded"))
	err := resolved(t, d.Dispatch(context.Background(), "fill"))
	require.Equal(t, command.WatchFailed, kind(t, err))
	require.False(t, d.AnyBusy())
}

func TestInvalidToken(t *testing.T) {
	s := memstore.New()
	d := newDispatcher(t, s)

	for _, token := range []string{"", command.AckSentinel} {
		p := d.Dispatch(context.Background(), token)
		require.Equal(t, command.Argument, kind(t, resolved(t, p)))
	}
	_, ok, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClose(t *testing.T) {
	s := memstore.New()
	d, err := command.New(s, command.WithPath(path))
	require.NoError(t, err)

	p := d.Dispatch(context.Background(), "fill")
	awaitingAck(t, s, p)

	d.Close()
	err = resolved(t, p)
	require.Equal(t, command.Cancelled, kind(t, err))
	require.ErrorIs(t, err, command.ErrClosed)
	require.Zero(t, s.Watchers(path))

	err = resolved(t, d.Dispatch(context.Background(), "drain"))
	require.ErrorIs(t, err, command.ErrClosed)
}

func TestChannel(t *testing.T) {
	s := memstore.New()
	d := newDispatcher(t, s)
	fill := d.Channel("fill")
	require.Equal(t, "fill", fill.Token())

	p := fill.Dispatch(context.Background())
	require.True(t, fill.Busy())
	awaitingAck(t, s, p)
	set(t, s, command.AckSentinel)
	require.NoError(t, resolved(t, p))
	require.False(t, fill.Busy())
}

func TestWaitContext(t *testing.T) {
	s := memstore.New()
	d := newDispatcher(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := d.Dispatch(context.Background(), "fill")
	require.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	// The dispatch itself carries on.
	require.True(t, d.Busy("fill"))
	awaitingAck(t, s, p)
	set(t, s, command.AckSentinel)
	require.NoError(t, resolved(t, p))
}

func TestInvalidOptions(t *testing.T) {
	s := memstore.New()
	_, err := command.New(s, command.WithTimeout(-time.Second))
	require.Equal(t, command.Argument, kind(t, err))
	_, err = command.New(s, command.WithPath(""))
	require.ErrorIs(t, err, storeerr.ErrArgument)
}
