// Package metrics provides Prometheus metrics for a validation sweep.
package metrics

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Solve outcomes used as the status label.
const (
	StatusOK           = "ok"
	StatusNotConverged = "not_converged"
	StatusFailed       = "failed"
)

// Metrics holds all Prometheus metrics of one run.
type Metrics struct {
	// Registry is private to the run so that repeated runs in one process do not collide.
	Registry *prometheus.Registry

	// Solver metrics
	SolvesTotal      *prometheus.CounterVec
	SolveDuration    *prometheus.HistogramVec
	SolverIterations prometheus.Histogram

	// Sweep progress
	PairsCompleted     prometheus.Counter
	PairsRemaining     prometheus.Gauge
	FiltersSkipped     *prometheus.CounterVec
	ScoredObservations prometheus.Counter
	RunInfo            *prometheus.GaugeVec

	logger *slog.Logger
}

// New creates and registers all sweep metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	solvesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busflow_solves_total",
			Help: "Trend filter solves by filter kind and outcome",
		},
		[]string{"filter", "status"},
	)

	solveDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "busflow_solve_duration_seconds",
			Help:    "Wall time of one trend filter solve",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"filter"},
	)

	solverIterations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "busflow_solver_iterations",
		Help:    "ADMM iterations until convergence",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	})

	pairsCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "busflow_pairs_completed_total",
		Help: "Filter and lambda pairs scored and persisted",
	})

	pairsRemaining := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "busflow_pairs_remaining",
		Help: "Filter and lambda pairs still incomplete",
	})

	filtersSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busflow_filters_skipped_total",
			Help: "Filters skipped because the training slice was unusable",
		},
		[]string{"filter", "reason"},
	)

	scoredObservations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "busflow_scored_observations_total",
		Help: "Held-out observations that received an error value",
	})

	runInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "busflow_run_info",
			Help: "Constant 1 labelled with the run id",
		},
		[]string{"run_id"},
	)

	registry.MustRegister(
		solvesTotal,
		solveDuration,
		solverIterations,
		pairsCompleted,
		pairsRemaining,
		filtersSkipped,
		scoredObservations,
		runInfo,
	)

	return &Metrics{
		Registry:           registry,
		SolvesTotal:        solvesTotal,
		SolveDuration:      solveDuration,
		SolverIterations:   solverIterations,
		PairsCompleted:     pairsCompleted,
		PairsRemaining:     pairsRemaining,
		FiltersSkipped:     filtersSkipped,
		ScoredObservations: scoredObservations,
		RunInfo:            runInfo,
		logger:             logger,
	}
}

// ObserveSolve records one solve attempt.
func (m *Metrics) ObserveSolve(filter, status string, seconds float64, iterations int) {
	m.SolvesTotal.WithLabelValues(filter, status).Inc()
	m.SolveDuration.WithLabelValues(filter).Observe(seconds)
	if status == StatusOK {
		m.SolverIterations.Observe(float64(iterations))
	}
}

// WriteTextfile writes the registry in the text exposition format, for the node exporter
// textfile collector. The write goes through a temporary file and a rename.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		if m.logger != nil {
			m.logger.Error("failed to write metrics textfile", "error", err, "path", path)
		}
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
