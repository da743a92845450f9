// Package metrics exposes search progress as Prometheus metrics on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evoburrito"

// Metrics records evaluations, actions, driver calls and archive coverage.
// It satisfies the recorder interfaces of the fitness, driver and search
// packages.
type Metrics struct {
	registry *prometheus.Registry

	evaluations   prometheus.Counter
	truncated     prometheus.Counter
	actions       *prometheus.CounterVec
	driverCalls   *prometheus.CounterVec
	driverLatency *prometheus.HistogramVec
	targets       *prometheus.GaugeVec
}

// New creates the collectors and registers them with a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Test cases evaluated against the SUT",
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_evaluations_total",
			Help:      "Evaluations cut short by a driver timeout or failure",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions executed by kind",
		}, []string{"kind"}),
		driverCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_calls_total",
			Help:      "Controller API calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		driverLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "driver_call_duration_seconds",
			Help:      "Controller API call latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		targets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets",
			Help:      "Archive targets by state",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.evaluations,
		m.truncated,
		m.actions,
		m.driverCalls,
		m.driverLatency,
		m.targets,
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvaluation counts one evaluated test case
func (m *Metrics) ObserveEvaluation(truncated bool) {
	m.evaluations.Inc()
	if truncated {
		m.truncated.Inc()
	}
}

// ObserveAction counts one executed action
func (m *Metrics) ObserveAction(kind string) {
	m.actions.WithLabelValues(kind).Inc()
}

// ObserveCall records one controller call
func (m *Metrics) ObserveCall(endpoint, outcome string, d time.Duration) {
	m.driverCalls.WithLabelValues(endpoint, outcome).Inc()
	m.driverLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// SetTargets publishes the archive coverage. Reached counts every target
// with a non-zero score, covered ones included.
func (m *Metrics) SetTargets(covered, reached int) {
	m.targets.WithLabelValues("covered").Set(float64(covered))
	m.targets.WithLabelValues("reached").Set(float64(reached))
}
