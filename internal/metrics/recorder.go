// Package metrics records per-run operation outcomes on a private Prometheus
// registry and pushes them to a Pushgateway when the run ends. Batch runs are
// short lived, so nothing is served over /metrics.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "logistics"

// Recorder aggregates operation timings, order counts and carrier retries.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	orders     *prometheus.CounterVec
	retries    *prometheus.CounterVec
	lastRun    prometheus.Gauge
}

// NewRecorder registers the run collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Operation latency.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"operation"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders determined per project and kind.",
		}, []string{"project", "kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried remote calls.",
		}, []string{"operation"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the run finished.",
		}),
	}
	r.registry.MustRegister(r.operations, r.durations, r.orders, r.retries, r.lastRun)
	return r
}

// Registry exposes the underlying registry for pushing and tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe records an operation outcome.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if r == nil || operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	op := normalizeLabel(operation)
	r.operations.WithLabelValues(op, status).Inc()
	r.durations.WithLabelValues(op).Observe(duration.Seconds())
}

// Orders adds n orders of kind for project.
func (r *Recorder) Orders(project, kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.orders.WithLabelValues(normalizeLabel(project), normalizeLabel(kind)).Add(float64(n))
}

// Retry counts one retried call.
func (r *Recorder) Retry(operation string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(normalizeLabel(operation)).Inc()
}

// Finish stamps the run completion time.
func (r *Recorder) Finish(at time.Time) {
	if r == nil {
		return
	}
	r.lastRun.Set(float64(at.Unix()))
}

func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
