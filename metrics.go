// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes used as metric label values.
const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeFailed   = "failed"
	outcomeCanceled = "canceled"
	outcomeClosed   = "closed"
)

// Metrics collects peer and socket statistics. A nil *Metrics records
// nothing.
type Metrics struct {
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	handled       *prometheus.CounterVec
	pending       prometheus.Gauge
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
	handshakes    *prometheus.CounterVec
	dropped       prometheus.Counter
}

// NewMetrics creates the collectors under namespace and registers them
// with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Outgoing calls by procedure and outcome",
			},
			[]string{"procedure", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Outgoing call latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"procedure"},
		),
		handled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handled_total",
				Help:      "Incoming requests by procedure and outcome",
			},
			[]string{"procedure", "outcome"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_calls",
			Help:      "Calls awaiting a response",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Bytes of messages sent",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Bytes of messages received",
		}),
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshakes_total",
				Help:      "Handshakes by result",
			},
			[]string{"result"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound messages discarded as malformed or unexpected",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.calls,
		m.callDuration,
		m.handled,
		m.pending,
		m.bytesSent,
		m.bytesReceived,
		m.handshakes,
		m.dropped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) callStarted() {
	if m != nil {
		m.pending.Inc()
	}
}

func (m *Metrics) callFinished(proc, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.calls.WithLabelValues(proc, outcome).Inc()
	m.callDuration.WithLabelValues(proc).Observe(d.Seconds())
}

func (m *Metrics) handledRequest(proc, outcome string) {
	if m != nil {
		m.handled.WithLabelValues(proc, outcome).Inc()
	}
}

func (m *Metrics) sent(n int) {
	if m != nil {
		m.bytesSent.Add(float64(n))
	}
}

func (m *Metrics) received(n int) {
	if m != nil {
		m.bytesReceived.Add(float64(n))
	}
}

func (m *Metrics) handshake(accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) droppedMessage() {
	if m != nil {
		m.dropped.Inc()
	}
}
