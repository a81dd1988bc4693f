// Package metrics exposes prometheus collectors for tool dispatch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks per-backend dispatch outcomes and latencies.
type Metrics struct {
	toolCalls *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Name:      "tool_calls_total",
			Help:      "Tool dispatches by backend, tool, and outcome.",
		}, []string{"backend", "tool", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpbridge",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool dispatch latency by backend and tool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "tool"}),
	}

	reg.MustRegister(m.toolCalls, m.latency)
	return m
}

// Observe records one dispatch.
func (m *Metrics) Observe(backend, tool string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(backend, tool, outcome).Inc()
	m.latency.WithLabelValues(backend, tool).Observe(elapsed.Seconds())
}
