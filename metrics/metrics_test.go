// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metrics_test

import (
	"testing"
	"time"

	"github.com/aquamon/aquamon/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.ReadingReceived(1)
	m.ReadingReceived(2)
	m.ReadingDiscarded(metrics.Malformed)
	m.Connected(true)
	m.Resubscribed()
	m.Dispatched("fill", metrics.Acknowledged, 50*time.Millisecond)
	m.Dispatched("drain", metrics.Busy, 0)

	count, err := testutil.GatherAndCount(reg,
		"aquamon_readings_received_total",
		"aquamon_dispatches_total",
		"aquamon_dispatch_duration_seconds",
	)
	require.NoError(t, err)
	require.Equal(t, 4, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				values[f.GetName()] = float64(
					metric.GetHistogram().GetSampleCount(),
				)
			}
		}
	}
	require.Equal(t, 2.0, values["aquamon_readings_received_total"])
	require.Equal(t, 2.0, values["aquamon_history_length"])
	require.Equal(t, 1.0, values["aquamon_readings_discarded_total"])
	require.Equal(t, 1.0, values["aquamon_connected"])
	require.Equal(t, 1.0, values["aquamon_resubscriptions_total"])
	require.Equal(t, 2.0, values["aquamon_dispatches_total"])
	require.Equal(t, 1.0, values["aquamon_dispatch_duration_seconds"])
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)
	_, err = metrics.New(reg)
	require.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.ReadingReceived(1)
		m.HistoryReplaced(1)
		m.ReadingDiscarded(metrics.Duplicate)
		m.Connected(false)
		m.Resubscribed()
		m.Dispatched("fill", metrics.Failed, time.Second)
	})
}
