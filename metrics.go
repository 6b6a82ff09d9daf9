// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pktlink

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a Conn reports to. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	decodeErrors   prometheus.Counter
	callDuration   *prometheus.HistogramVec
	pendingCalls   prometheus.Gauge
	openConns      prometheus.Gauge
}

// NewMetrics registers the collectors with reg under the "pktlink"
// namespace. A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pktlink",
			Name:      "frames_sent_total",
			Help:      "Frames written, by packet tag",
		}, []string{"tag"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pktlink",
			Name:      "frames_received_total",
			Help:      "Frames decoded, by packet tag",
		}, []string{"tag"}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pktlink",
			Name:      "frame_decode_errors_total",
			Help:      "Complete frames that could not be decoded",
		}),

		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pktlink",
			Name:      "call_duration_seconds",
			Help:      "Correlated call latency by request tag and outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tag", "result"}),

		pendingCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pktlink",
			Name:      "pending_calls",
			Help:      "Calls waiting for a response",
		}),

		openConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pktlink",
			Name:      "open_connections",
			Help:      "Connections whose read loop is running",
		}),
	}
}

func (m *Metrics) frameSent(tag string) {
	if m != nil {
		m.framesSent.WithLabelValues(tag).Inc()
	}
}

func (m *Metrics) frameReceived(tag string) {
	if m != nil {
		m.framesReceived.WithLabelValues(tag).Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) callStarted() {
	if m != nil {
		m.pendingCalls.Inc()
	}
}

func (m *Metrics) callFinished(tag string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.pendingCalls.Dec()
	m.callDuration.WithLabelValues(tag, outcome(err)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.openConns.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.openConns.Dec()
	}
}
