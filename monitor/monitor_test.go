// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/aquamon/aquamon/command"
	"github.com/aquamon/aquamon/device"
	"github.com/aquamon/aquamon/monitor"
	"github.com/aquamon/aquamon/store/memstore"
	"github.com/aquamon/aquamon/telemetry"
	"github.com/stretchr/testify/require"
)

func TestMonitor(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	sim := device.New(s,
		device.WithInterval(0),
		device.WithAckDelay(20*time.Millisecond),
	)
	for i := range int64(12) {
		require.NoError(t, sim.Publish(ctx, telemetry.Reading{
			PH:        7,
			Timestamp: time.Unix(1_700_000_000+i, 0).UTC(),
		}))
	}

	m, err := monitor.New(s, []string{"fill", "drain"},
		nil,
		[]command.Option{command.WithTimeout(2 * time.Second)},
	)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	select {
	case <-m.Ready():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "bootstrap did not complete")
	}

	require.Len(t, m.History(), 10)
	latest, ok := m.Latest()
	require.True(t, ok)
	require.Equal(t, int64(1_700_000_011), latest.Timestamp.Unix())
	require.Equal(t, monitor.Status{
		Connected: true,
		Readings:  10,
		Busy:      map[string]bool{"fill": false, "drain": false},
	}, m.Status())
	require.Equal(t, []string{"fill", "drain"}, m.Tokens())

	simCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sim.Run(simCtx) }()
	defer func() {
		stop()
		<-done
	}()

	p := m.Dispatch(ctx, "fill")
	require.True(t, m.Busy("fill"))
	require.True(t, m.AnyBusy())
	st := m.Status()
	require.True(t, st.AnyBusy)
	require.True(t, st.Busy["fill"])
	require.False(t, st.Busy["drain"])

	require.NoError(t, p.Wait(ctx))
	require.False(t, m.AnyBusy())
	require.NoError(t, m.Send(ctx, "drain"))

	require.NoError(t, sim.Publish(ctx, telemetry.Reading{
		PH:        6.5,
		Timestamp: time.Unix(1_700_000_100, 0).UTC(),
	}))
	require.Eventually(t, func() bool {
		r, ok := m.Latest()
		return ok && r.PH == 6.5
	}, time.Second, time.Millisecond)
	require.Len(t, m.History(), 11)
}

func TestMonitorInvalidOptions(t *testing.T) {
	s := memstore.New()
	_, err := monitor.New(s, nil,
		[]telemetry.Option{telemetry.WithPath("")}, nil)
	require.Error(t, err)
	_, err = monitor.New(s, nil,
		nil, []command.Option{command.WithPath("#")})
	require.Error(t, err)
}
