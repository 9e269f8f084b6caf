// Package metrics tracks process and output counters for the /metrics
// endpoint.
//
// All methods are safe to call on a nil *Metrics, so components can be
// built without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rundeck"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	spawns        *prometheus.CounterVec
	restarts      prometheus.Counter
	autoRestarts  prometheus.Counter
	staleEvents   *prometheus.CounterVec
	running       prometheus.Gauge
	flushes       prometheus.Counter
	flushedBytes  prometheus.Counter
	droppedFlush  prometheus.Counter
	startDuration prometheus.Histogram
}

// New creates Metrics with a fresh registry that also exports Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_total",
			Help:      "Spawn attempts by result.",
		}, []string{"result"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Completed restarts.",
		}),
		autoRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_restarts_total",
			Help:      "Restarts scheduled after a failed exit.",
		}),
		staleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_events_total",
			Help:      "Events discarded because their generation or epoch was retired.",
		}, []string{"kind"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes_running",
			Help:      "Processes currently in the running state.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_flushes_total",
			Help:      "Coalesced output flushes applied to consoles.",
		}),
		flushedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes of output applied to consoles.",
		}),
		droppedFlush: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_stale_flushes_total",
			Help:      "Flushes dropped because the console was cleared.",
		}),
		startDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "spawn_duration_seconds",
			Help:      "Time spent building and spawning a process.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.spawns, m.restarts, m.autoRestarts, m.staleEvents, m.running,
		m.flushes, m.flushedBytes, m.droppedFlush, m.startDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SpawnSucceeded records a successful spawn and how long it took.
func (m *Metrics) SpawnSucceeded(d time.Duration) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues("ok").Inc()
	m.startDuration.Observe(d.Seconds())
}

// SpawnFailed records a failed spawn.
func (m *Metrics) SpawnFailed() {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues("error").Inc()
}

// Restarted records a completed restart.
func (m *Metrics) Restarted() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

// AutoRestartScheduled records a scheduled automatic restart.
func (m *Metrics) AutoRestartScheduled() {
	if m == nil {
		return
	}
	m.autoRestarts.Inc()
}

// StaleEvent records a discarded event of the given kind ("exit",
// "output", "restart").
func (m *Metrics) StaleEvent(kind string) {
	if m == nil {
		return
	}
	m.staleEvents.WithLabelValues(kind).Inc()
}

// SetRunning sets the number of running processes.
func (m *Metrics) SetRunning(n int) {
	if m == nil {
		return
	}
	m.running.Set(float64(n))
}

// Flushed records an applied flush of n bytes.
func (m *Metrics) Flushed(n int) {
	if m == nil {
		return
	}
	m.flushes.Inc()
	m.flushedBytes.Add(float64(n))
}

// FlushDropped records a flush dropped for a stale epoch.
func (m *Metrics) FlushDropped() {
	if m == nil {
		return
	}
	m.droppedFlush.Inc()
}
