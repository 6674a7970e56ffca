// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package device_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aquamon/aquamon/command"
	"github.com/aquamon/aquamon/device"
	"github.com/aquamon/aquamon/retry"
	"github.com/aquamon/aquamon/store/memstore"
	"github.com/aquamon/aquamon/telemetry"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, d *device.Simulator) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestReadings(t *testing.T) {
	s := memstore.New()
	d := device.New(s,
		device.WithInterval(5*time.Millisecond),
		device.WithAckDelay(0),
	)
	run(t, d)

	require.Eventually(t, func() bool {
		recs, err := s.Last(context.Background(), telemetry.DefaultPath, 10)
		return err == nil && len(recs) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	recs, err := s.Last(context.Background(), telemetry.DefaultPath, 10)
	require.NoError(t, err)

	var prev time.Time
	for _, rec := range recs {
		r, err := telemetry.ParseRecord(rec.Key, rec.Value)
		require.NoError(t, err)
		require.True(t, r.Timestamp.After(prev))
		require.GreaterOrEqual(t, r.PH, 0.0)
		require.LessOrEqual(t, r.PH, 14.0)
		prev = r.Timestamp
	}
}

func TestAcknowledgesCommands(t *testing.T) {
	s := memstore.New()
	d := device.New(s,
		device.WithInterval(0),
		device.WithAckDelay(10*time.Millisecond),
	)
	run(t, d)

	dispatcher, err := command.New(s, command.WithTimeout(2*time.Second))
	require.NoError(t, err)
	defer dispatcher.Close()

	ctx := context.Background()
	require.NoError(t, dispatcher.Send(ctx, "fill"))
	require.NoError(t, dispatcher.Send(ctx, "drain"))
	require.Equal(t, []string{"fill", "drain"}, d.Handled())
}

func TestRewatchesAfterDisconnect(t *testing.T) {
	s := memstore.New()
	d := device.New(s,
		device.WithInterval(0),
		device.WithAckDelay(0),
		device.WithRetry{Policy: &retry.ExponentialBackoff{
			MinInterval: time.Millisecond,
			NoJitter:    true,
		}},
	)
	run(t, d)

	require.Eventually(t, func() bool {
		return s.Watchers(command.DefaultPath) == 1
	}, time.Second, time.Millisecond)
	s.Disconnect(errors.New("connection reset"))
	require.Eventually(t, func() bool {
		return s.Watchers(command.DefaultPath) == 1
	}, time.Second, time.Millisecond)

	dispatcher, err := command.New(s)
	require.NoError(t, err)
	defer dispatcher.Close()
	require.NoError(t, dispatcher.Send(context.Background(), "fill"))
}

// Policy that retries without delay and records the attempts of each Start.
type recordingPolicy struct {
	starts []int
	mu     sync.Mutex
}

func (p *recordingPolicy) Start(
	ctx context.Context,
	_ string,
	task retry.Task,
) error {
	p.mu.Lock()
	p.starts = append(p.starts, 0)
	i := len(p.starts) - 1
	p.mu.Unlock()

	for {
		p.mu.Lock()
		p.starts[i]++
		p.mu.Unlock()

		_, err := task(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *recordingPolicy) attempts() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.starts...)
}

func TestFreshBackoffPerOutage(t *testing.T) {
	s := memstore.New()
	policy := &recordingPolicy{}
	d := device.New(s,
		device.WithInterval(0),
		device.WithAckDelay(0),
		device.WithRetry{Policy: policy},
	)
	run(t, d)

	watching := func() bool { return s.Watchers(command.DefaultPath) == 1 }
	require.Eventually(t, watching, time.Second, time.Millisecond)

	for range 3 {
		s.Disconnect(errors.New("connection reset"))
		require.Eventually(t, watching, time.Second, time.Millisecond)
	}

	// Every recovery starts over at the first attempt.
	require.Equal(t, []int{1, 1, 1, 1}, policy.attempts())
}

func TestPublish(t *testing.T) {
	s := memstore.New()
	d := device.New(s, device.WithInterval(0))

	r := telemetry.Reading{
		Turbidity:       3,
		PH:              7,
		DissolvedOxygen: 9,
		TDS:             150,
		Timestamp:       time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, d.Publish(context.Background(), r))

	recs, err := s.Last(context.Background(), telemetry.DefaultPath, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "1700000000", recs[0].Key)

	got, err := telemetry.ParseRecord(recs[0].Key, recs[0].Value)
	require.NoError(t, err)
	require.Equal(t, r, got)
}
