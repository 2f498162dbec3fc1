// Package metrics exposes Prometheus metrics for the flow engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatflow"

// EngineMetrics holds the engine collectors. All methods are safe on a nil receiver.
type EngineMetrics struct {
	registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	ExecutionDepth    prometheus.Histogram
	NodesProcessed    *prometheus.CounterVec
	FallbacksTotal    *prometheus.CounterVec
	NodeErrorsTotal   *prometheus.CounterVec
	AnalyticsEvents   *prometheus.CounterVec
	PersistFailures   *prometheus.CounterVec
}

// NewEngineMetrics creates the collectors and registers them on a fresh registry
func NewEngineMetrics() *EngineMetrics {
	m := &EngineMetrics{
		registry: prometheus.NewRegistry(),

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of flow executions by terminal status",
			},
			[]string{"status"},
		),

		ExecutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall clock duration of flow executions in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		ExecutionDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_depth",
				Help:      "Number of nodes processed per execution",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
			},
		),

		NodesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nodes",
				Name:      "processed_total",
				Help:      "Total number of processed nodes",
			},
			[]string{"category", "type"},
		),

		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of hand-offs to a human agent by reason",
			},
			[]string{"reason"},
		),

		NodeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nodes",
				Name:      "errors_total",
				Help:      "Total number of node processing errors",
			},
			[]string{"category", "type"},
		),

		AnalyticsEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analytics_events_total",
				Help:      "Total number of analytics_tracking events",
			},
			[]string{"event"},
		),

		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Total number of execution persistence failures",
			},
			[]string{"operation"},
		),
	}

	m.registry.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionDepth,
		m.NodesProcessed,
		m.FallbacksTotal,
		m.NodeErrorsTotal,
		m.AnalyticsEvents,
		m.PersistFailures,
	)
	return m
}

// WithRuntimeCollectors adds the Go runtime and process collectors
func (m *EngineMetrics) WithRuntimeCollectors() *EngineMetrics {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *EngineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordExecution records one finished execution
func (m *EngineMetrics) RecordExecution(status string, duration time.Duration, depth int) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionDuration.Observe(duration.Seconds())
	m.ExecutionDepth.Observe(float64(depth))
}

// RecordNodeProcessed increments the processed node counter
func (m *EngineMetrics) RecordNodeProcessed(category, nodeType string) {
	if m == nil {
		return
	}
	m.NodesProcessed.WithLabelValues(category, nodeType).Inc()
}

// RecordFallback increments the fallback counter
func (m *EngineMetrics) RecordFallback(reason string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordNodeError increments the node error counter
func (m *EngineMetrics) RecordNodeError(category, nodeType string) {
	if m == nil {
		return
	}
	m.NodeErrorsTotal.WithLabelValues(category, nodeType).Inc()
}

// RecordAnalyticsEvent increments the analytics counter
func (m *EngineMetrics) RecordAnalyticsEvent(event string) {
	if m == nil {
		return
	}
	m.AnalyticsEvents.WithLabelValues(event).Inc()
}

// RecordPersistFailure increments the persistence failure counter
func (m *EngineMetrics) RecordPersistFailure(operation string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(operation).Inc()
}
