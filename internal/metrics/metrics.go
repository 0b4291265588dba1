// Package metrics exposes Prometheus instrumentation for experiment runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "multistart"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Metrics groups the collectors of the experiment driver. It satisfies
// experiment.Recorder.
type Metrics struct {
	solves       *prometheus.CounterVec
	solveSeconds *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	ensembleSize *prometheus.GaugeVec
}

// New registers the collectors with reg. A nil reg registers nothing,
// which keeps tests free of global state.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		solves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solves_total",
			Help:      "Total solves by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		solveSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Duration of a single solve",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"strategy"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total experiment runs by problem and mode",
		}, []string{"problem", "mode"}),
		ensembleSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ensemble_size",
			Help:      "Number of experiment cases held per problem",
		}, []string{"problem"}),
	}
}

// ObserveSolve records one solve.
func (m *Metrics) ObserveSolve(strategy, outcome string, d time.Duration) {
	m.solves.WithLabelValues(strategy, outcome).Inc()
	m.solveSeconds.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveRun records a completed RunAll and the resulting ensemble size.
func (m *Metrics) ObserveRun(problem string, regenerate bool, size int) {
	mode := "update"
	if regenerate {
		mode = "run"
	}
	m.runs.WithLabelValues(problem, mode).Inc()
	m.ensembleSize.WithLabelValues(problem).Set(float64(size))
}
