// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package metrics exposes Prometheus instrumentation for the telemetry and
// command engines. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by both engines.
type Metrics struct {
	readings      prometheus.Counter
	discarded     *prometheus.CounterVec
	historyLength prometheus.Gauge
	connected     prometheus.Gauge
	resubscribes  prometheus.Counter
	dispatches    *prometheus.CounterVec
	ackLatency    prometheus.Histogram
}

// Reasons a reading is discarded.
const (
	Malformed = "malformed"
	Duplicate = "duplicate"
)

// Dispatch outcomes.
const (
	Acknowledged = "acknowledged"
	Failed       = "failed"
	TimedOut     = "timeout"
	Busy         = "busy"
	Cancelled    = "cancelled"
)

const namespace = "aquamon"

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_received_total",
			Help:      "Readings appended to the history.",
		}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_discarded_total",
			Help:      "Telemetry records dropped before reaching the history.",
		}, []string{"reason"}),
		historyLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_length",
			Help:      "Readings currently held in the history.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the telemetry subscription is healthy.",
		}),
		resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resubscriptions_total",
			Help:      "Live subscriptions re-established after a failure.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Command dispatches by command and outcome.",
		}, []string{"command", "outcome"}),
		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from command write to resolution.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.readings,
		m.discarded,
		m.historyLength,
		m.connected,
		m.resubscribes,
		m.dispatches,
		m.ackLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ReadingReceived records an appended reading and the new history length.
func (m *Metrics) ReadingReceived(historyLength int) {
	if m == nil {
		return
	}
	m.readings.Inc()
	m.historyLength.Set(float64(historyLength))
}

// HistoryReplaced records a bootstrap that replaced the history.
func (m *Metrics) HistoryReplaced(historyLength int) {
	if m == nil {
		return
	}
	m.historyLength.Set(float64(historyLength))
}

// ReadingDiscarded records a dropped record.
func (m *Metrics) ReadingDiscarded(reason string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(reason).Inc()
}

// Connected records the connectivity flag.
func (m *Metrics) Connected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// Resubscribed records a recovered live subscription.
func (m *Metrics) Resubscribed() {
	if m == nil {
		return
	}
	m.resubscribes.Inc()
}

// Dispatched records the outcome of a dispatch. A zero duration skips the
// latency histogram, which is used for dispatches that never wrote.
func (m *Metrics) Dispatched(command, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(command, outcome).Inc()
	if d > 0 {
		m.ackLatency.Observe(d.Seconds())
	}
}
