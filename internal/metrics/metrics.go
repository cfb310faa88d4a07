// Package metrics exposes Prometheus counters for gateway calls, poller ticks
// and task transitions, plus a small HTTP server to scrape them.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "docsim"

// Metrics groups the collectors registered on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pollTicks       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	artifactBytes   prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Gateway requests by operation and HTTP status code (0 for transport failures).",
		}, []string{"op", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Gateway request latency by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"op"}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Status polls by poller role and outcome.",
		}, []string{"role", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Client-side task state transitions by role and target status.",
		}, []string{"role", "status"}),
		artifactBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes written to disk by artifact downloads.",
		}),
	}

	m.Registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.pollTicks,
		m.transitions,
		m.artifactBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one gateway call.
func (m *Metrics) ObserveRequest(op string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// PollTick records one poller tick. Outcome is "ok", "failure" or "terminal".
func (m *Metrics) PollTick(role, outcome string) {
	if m == nil {
		return
	}
	m.pollTicks.WithLabelValues(role, outcome).Inc()
}

// Transition records a task entering status.
func (m *Metrics) Transition(role, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(role, status).Inc()
}

// ArtifactBytes adds n downloaded bytes.
func (m *Metrics) ArtifactBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.artifactBytes.Add(float64(n))
}
