// Package observability provides the Prometheus metrics and OpenTelemetry
// tracing of the narration service.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "narration"

// CodeOK labels a run that completed without error.
const CodeOK = "OK"

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	runsTotal        *prometheus.CounterVec
	providerAttempts *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	selectedScore    prometheus.Gauge
	repairedTotal    prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Narration runs by terminal code.",
			},
			[]string{"code"},
		),
		providerAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_attempts_total",
				Help:      "Synthesis attempts by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of each narration step.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
			},
			[]string{"step"},
		),
		selectedScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_score",
			Help:      "Total score of the most recently selected item.",
		}),
		repairedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repaired_links_total",
			Help:      "Audio records re-linked by the repair sweep.",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun counts one finished run. An empty code counts as CodeOK.
func (m *Metrics) ObserveRun(code string) {
	if m == nil {
		return
	}

	if code == "" {
		code = CodeOK
	}

	m.runsTotal.WithLabelValues(code).Inc()
}

// ObserveAttempt counts one synthesis attempt.
func (m *Metrics) ObserveAttempt(provider, outcome string) {
	if m == nil {
		return
	}

	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
}

// ObserveStep records how long step took.
func (m *Metrics) ObserveStep(step string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
}

// SetSelectedScore records the total score of the chosen item.
func (m *Metrics) SetSelectedScore(score float64) {
	if m == nil {
		return
	}

	m.selectedScore.Set(score)
}

// AddRepaired counts re-linked records.
func (m *Metrics) AddRepaired(count int) {
	if m == nil || count <= 0 {
		return
	}

	m.repairedTotal.Add(float64(count))
}
