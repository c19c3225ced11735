// Package metrics exposes execution metrics on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// Metrics records request executions, durations, price impact and batch
// sizes. It implements execution.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	executed    *prometheus.CounterVec
	duration    prometheus.Histogram
	impactRatio prometheus.Histogram
	batchSize   prometheus.Histogram
}

// New creates Metrics under namespace, registered on a fresh registry along
// with the Go runtime and process collectors.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		executed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_executed_total",
			Help:      "Execution attempts by resulting request status",
		}, []string{"status"}),

		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Time to run one request through the orchestrator",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),

		impactRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "price_impact_ratio",
			Help:      "Absolute price impact as a fraction of the reference price",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.33},
		}),

		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests per batch run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	registry.MustRegister(
		m.executed,
		m.duration,
		m.impactRatio,
		m.batchSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveExecution counts one attempt and its duration.
func (m *Metrics) ObserveExecution(status domain.RequestStatus, elapsed time.Duration) {
	m.executed.WithLabelValues(string(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// ObserveImpact records |impact| / referencePrice of an executed request.
func (m *Metrics) ObserveImpact(ratio float64) {
	m.impactRatio.Observe(ratio)
}

// ObserveBatch records the size of a batch run.
func (m *Metrics) ObserveBatch(size int) {
	m.batchSize.Observe(float64(size))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
