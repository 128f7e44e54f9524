// Package metrics exposes Prometheus instrumentation for the router and the
// research loop.
//
// Information Hiding:
// - Collector definitions and label sets hidden
// - Registry is private to each Metrics value
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scout"

// Metrics holds every collector on its own registry.
// The zero value is not usable; construct with New.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	toolRetries  *prometheus.CounterVec

	rounds      prometheus.Counter
	topics      *prometheus.GaugeVec
	stops       *prometheus.CounterVec
	toolTraces  prometheus.Counter
	runDuration prometheus.Histogram
}

// New creates a Metrics with a fresh registry, including Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool router calls by tool type and final status",
		}, []string{"tool", "status"}),

		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a router call including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tool"}),

		toolRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "retries_total",
			Help:      "Retries spent by tool type",
		}, []string{"tool"}),

		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "rounds_total",
			Help:      "Research loop rounds started",
		}),

		topics: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "topics",
			Help:      "Topic blocks in the current queue by status",
		}, []string{"status"}),

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "stops_total",
			Help:      "Research loop terminations by reason",
		}, []string{"reason"}),

		toolTraces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "tool_traces_total",
			Help:      "Tool traces recorded onto topic blocks",
		}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "run_duration_seconds",
			Help:      "Duration of a research loop run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}

	m.registry.MustRegister(
		m.toolCalls, m.toolDuration, m.toolRetries,
		m.rounds, m.topics, m.stops, m.toolTraces, m.runDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveToolCall records one finished router call.
func (m *Metrics) ObserveToolCall(toolType, status string, retries int, elapsed time.Duration) {
	m.toolCalls.WithLabelValues(toolType, status).Inc()
	m.toolDuration.WithLabelValues(toolType).Observe(elapsed.Seconds())
	if retries > 0 {
		m.toolRetries.WithLabelValues(toolType).Add(float64(retries))
	}
}

// ObserveRound records the start of a loop round.
func (m *Metrics) ObserveRound() {
	m.rounds.Inc()
}

// ObserveTrace records one tool trace appended to a block.
func (m *Metrics) ObserveTrace() {
	m.toolTraces.Inc()
}

// ObserveTopics sets the per-status topic gauges.
func (m *Metrics) ObserveTopics(pending, researching, completed, failed int) {
	m.topics.WithLabelValues("pending").Set(float64(pending))
	m.topics.WithLabelValues("researching").Set(float64(researching))
	m.topics.WithLabelValues("completed").Set(float64(completed))
	m.topics.WithLabelValues("failed").Set(float64(failed))
}

// ObserveStop records why a loop run ended and how long it took.
func (m *Metrics) ObserveStop(reason string, elapsed time.Duration) {
	m.stops.WithLabelValues(reason).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}
