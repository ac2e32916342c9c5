// Package telemetry carries the ambient observability stack: Prometheus
// metrics and OpenTelemetry tracing, wired the way cklxx-elephant.ai wires
// its own agent/tool execution (internal/observability's Prometheus
// counters/gauges, internal/domain/agent/react/tracing.go's span helpers).
// Every exported metric recorder is safe to call on a nil *Metrics so
// callers that don't wire telemetry in (e.g. unit tests) pay no cost.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the process's Prometheus instruments.
type Metrics struct {
	tasksCreated     *prometheus.CounterVec
	tasksTerminal    *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	stepsTotal       *prometheus.CounterVec
	subscriberLag    prometheus.Counter
	subscriberDrops  prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	browserSemaphore prometheus.Gauge
}

// NewMetrics registers every instrument against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "browseserver_tasks_created_total",
			Help: "Tasks created by the Invocation Router, by tool name.",
		}, []string{"tool_name"}),
		tasksTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "browseserver_tasks_terminal_total",
			Help: "Tasks reaching a terminal status, by status.",
		}, []string{"status"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "browseserver_step_duration_seconds",
			Help:    "Step execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool_name"}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "browseserver_steps_total",
			Help: "Steps executed, by terminal step status.",
		}, []string{"status"}),
		subscriberLag: factory.NewCounter(prometheus.CounterOpts{
			Name: "browseserver_event_subscriber_lag_total",
			Help: "LAG markers inserted for a slow SSE subscriber.",
		}),
		subscriberDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "browseserver_event_subscriber_drops_total",
			Help: "Events dropped from a full subscriber buffer.",
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "browseserver_description_cache_lookups_total",
			Help: "Tool description cache lookups, by outcome (hit/miss).",
		}, []string{"outcome"}),
		browserSemaphore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "browseserver_browser_sessions_in_use",
			Help: "Synchronous-dispatch browser sessions currently checked out.",
		}),
	}
}

func (m *Metrics) RecordTaskCreated(toolName string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(toolName).Inc()
}

func (m *Metrics) RecordTaskTerminal(status string) {
	if m == nil {
		return
	}
	m.tasksTerminal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStepDuration(toolName string, seconds float64) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(toolName).Observe(seconds)
}

func (m *Metrics) RecordStep(status string) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSubscriberLag() {
	if m == nil {
		return
	}
	m.subscriberLag.Inc()
}

func (m *Metrics) RecordSubscriberDrop() {
	if m == nil {
		return
	}
	m.subscriberDrops.Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetBrowserSessionsInUse(n int) {
	if m == nil {
		return
	}
	m.browserSemaphore.Set(float64(n))
}
