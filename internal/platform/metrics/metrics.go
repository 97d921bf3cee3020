// Package metrics exposes Prometheus instruments for calibration runs and
// attempt decisions. Every Metrics value owns its registry so tests and
// multiple servers in one process never collide on registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scrycat"

// Calibration run statuses.
const (
	RunPublished  = "published"
	RunConflict   = "conflict"
	RunSuperseded = "superseded"
	RunFailed     = "failed"
	RunEmpty      = "empty"
)

// DecisionIssued labels a selection that handed out an item. Terminations
// are labelled with their reason.
const DecisionIssued = "issued"

// Metrics bundles the instruments.
type Metrics struct {
	registry *prometheus.Registry

	calibrationRuns     *prometheus.CounterVec
	calibrationDuration *prometheus.HistogramVec
	itemOutcomes        *prometheus.CounterVec
	selectedModels      *prometheus.CounterVec
	decisions           *prometheus.CounterVec
	responses           prometheus.Counter
	activeAttempts      prometheus.Gauge
}

// New registers all instruments on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		calibrationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "runs_total",
			Help:      "Calibration runs by final status",
		}, []string{"status"}),
		calibrationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "duration_seconds",
			Help:      "Wall time of calibration runs",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		itemOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "item_outcomes_total",
			Help:      "Item parameters written by calibration runs, by status",
		}, []string{"status"}),
		selectedModels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "selected_models_total",
			Help:      "Items whose winning model was chosen by model selection",
		}, []string{"model"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selector",
			Name:      "decisions_total",
			Help:      "Next-item decisions by outcome",
		}, []string{"outcome"}),
		responses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selector",
			Name:      "responses_total",
			Help:      "Responses applied to attempts",
		}),
		activeAttempts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "selector",
			Name:      "active_attempts",
			Help:      "Attempts held in memory that have not terminated",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCalibration records one finished run. A nil receiver is a no-op.
func (m *Metrics) ObserveCalibration(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calibrationRuns.WithLabelValues(status).Inc()
	m.calibrationDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveItemOutcomes adds per-status item counts of a published context.
func (m *Metrics) ObserveItemOutcomes(byStatus map[string]int) {
	if m == nil {
		return
	}
	for status, n := range byStatus {
		m.itemOutcomes.WithLabelValues(status).Add(float64(n))
	}
}

// ObserveSelectedModels adds per-model winner counts of a published context.
func (m *Metrics) ObserveSelectedModels(byModel map[string]int) {
	if m == nil {
		return
	}
	for model, n := range byModel {
		m.selectedModels.WithLabelValues(model).Add(float64(n))
	}
}

// ObserveDecision counts one NextItem outcome.
func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// ObserveResponse counts one applied response.
func (m *Metrics) ObserveResponse() {
	if m == nil {
		return
	}
	m.responses.Inc()
}

// SetActiveAttempts sets the number of live attempts.
func (m *Metrics) SetActiveAttempts(n int) {
	if m == nil {
		return
	}
	m.activeAttempts.Set(float64(n))
}
