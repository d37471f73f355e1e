// Package pipeline loads the inputs of a sweep and runs it. Each pending (filter, lambda)
// pair is fitted on the training slice and scored on the held-out slice, and its result is
// persisted before the next pair starts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/statlearn/busflow/internal/appconf"
	"github.com/statlearn/busflow/internal/clock"
	"github.com/statlearn/busflow/internal/experiment"
	"github.com/statlearn/busflow/internal/export"
	"github.com/statlearn/busflow/internal/logging"
	"github.com/statlearn/busflow/internal/metrics"
	"github.com/statlearn/busflow/internal/observations"
	"github.com/statlearn/busflow/internal/trendfilter"
	"github.com/statlearn/busflow/internal/validation"
)

// Runner executes one sweep. It is single-threaded and owns its Manager for the run.
type Runner struct {
	Config  appconf.Config
	Data    *Dataset
	Manager *experiment.Manager
	Metrics *metrics.Metrics
	Clock   clock.Clock
	Logger  *slog.Logger
	RunID   string
}

// Summary reports what a Run did.
type Summary struct {
	RunID     string
	Completed int
	Failed    int
	Skipped   int
	Remaining int
	Duration  time.Duration
}

// NewRunner wires a Runner with a fresh run id, metrics and the system clock.
func NewRunner(cfg appconf.Config, data *Dataset, manager *experiment.Manager, logger *slog.Logger) *Runner {
	runID := uuid.NewString()
	logger = logging.OrDiscard(logger).With(slog.String("run_id", runID))
	m := metrics.NewWithLogger(logger)
	m.RunInfo.WithLabelValues(runID).Set(1)
	return &Runner{
		Config:  cfg,
		Data:    data,
		Manager: manager,
		Metrics: m,
		Clock:   clock.RealClock{},
		Logger:  logger,
		RunID:   runID,
	}
}

func (r *Runner) solverOptions() trendfilter.SolverOptions {
	s := r.Config.Solver
	return trendfilter.SolverOptions{
		Rho:       s.Rho,
		GapTol:    s.GapTol,
		MaxIter:   s.MaxIter,
		CGTol:     s.CGTol,
		CGMaxIter: s.CGMaxIter,
	}
}

// Run processes every pending pair in filter order. Solver failures leave the pair pending
// and the sweep continues; a failure to persist progress aborts the run. Cancellation is
// honoured between pairs.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	logger := r.Logger.With(slog.String("component", "sweep"))
	start := r.Clock.Now()
	summary := Summary{RunID: r.RunID}

	metric, err := trendfilter.ParseMetric(r.Config.Experiment.Metric)
	if err != nil {
		return summary, err
	}
	if metric == trendfilter.AbsoluteError {
		logger.Warn("absolute error is deprecated, use squared")
	}

	done, total := r.Manager.Progress()
	r.Metrics.PairsRemaining.Set(float64(total - done))

	pending := r.Manager.Uncompleted()
	logging.LogOperation(logger, "sweep_started",
		slog.Int("filters", len(pending)),
		slog.Int("pairs_remaining", total-done))

	for _, f := range pending {
		if err := ctx.Err(); err != nil {
			return r.finish(summary, start), err
		}
		if err := r.runFilter(ctx, f, metric, &summary, logger); err != nil {
			return r.finish(summary, start), err
		}
	}

	summary = r.finish(summary, start)
	logging.LogOperation(logger, "sweep_finished",
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("remaining", summary.Remaining),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

func (r *Runner) finish(s Summary, start time.Time) Summary {
	done, total := r.Manager.Progress()
	s.Remaining = total - done
	s.Duration = clock.Since(r.Clock, start)
	return s
}

func (r *Runner) runFilter(ctx context.Context, f experiment.Filter, metric trendfilter.Metric, summary *Summary, logger *slog.Logger) error {
	cond := f.Condition
	kind := cond.Name()
	logger = logger.With(slog.String("filter", cond.String()))

	sg, err := trendfilter.VertexSignal(r.Data.Train, r.Data.Graph, cond)
	if errors.Is(err, trendfilter.ErrEmptySelection) {
		logger.Warn("no training observations for filter, skipping")
		r.Metrics.FiltersSkipped.WithLabelValues(kind, "empty_selection").Inc()
		summary.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	if sg.Graph.NumStops() == 0 {
		logger.Warn("training signal covers no connected stops, skipping")
		r.Metrics.FiltersSkipped.WithLabelValues(kind, "empty_graph").Inc()
		summary.Skipped++
		return nil
	}

	d, err := trendfilter.DifferenceOperator(sg.Graph, r.Config.Experiment.Order)
	if err != nil {
		return err
	}
	logging.LogOperation(logger, "filter_prepared",
		slog.Int("stops", sg.Graph.NumStops()),
		slog.Int("edges", sg.Graph.NumEdges()),
		slog.Int("operator_nnz", d.NNZ()),
		slog.Any("lambdas", f.Pending()))

	for _, lambda := range f.Pending() {
		if err := ctx.Err(); err != nil {
			return err
		}

		solveStart := r.Clock.Now()
		fitted, sol, err := trendfilter.FitSignal(sg, d, lambda, r.solverOptions())
		seconds := clock.Since(r.Clock, solveStart).Seconds()
		if err != nil {
			status := metrics.StatusFailed
			if errors.Is(err, trendfilter.ErrNotConverged) {
				status = metrics.StatusNotConverged
			}
			r.Metrics.ObserveSolve(kind, status, seconds, sol.Iterations)
			logging.LogError(logger, "trend filter solve failed, lambda left pending", err,
				slog.Float64("lambda", lambda))
			summary.Failed++
			continue
		}
		r.Metrics.ObserveSolve(kind, metrics.StatusOK, seconds, sol.Iterations)

		errs, err := trendfilter.Score(r.Data.Validation, cond, fitted, metric)
		if err != nil {
			return err
		}
		if err := r.persist(cond, lambda, errs); err != nil {
			return err
		}

		summary.Completed++
		r.Metrics.PairsCompleted.Inc()
		r.Metrics.PairsRemaining.Dec()
		r.Metrics.ScoredObservations.Add(float64(len(errs)))
		logging.LogOperation(logger, "lambda_completed",
			slog.Float64("lambda", lambda),
			slog.Int("iterations", sol.Iterations),
			slog.Float64("objective", sol.Objective),
			slog.Float64("gap", sol.Gap),
			slog.Int("scored", len(errs)),
			slog.Float64("solve_seconds", seconds))
	}
	return nil
}

// persist records the errors of one pair, then marks it done and saves the tracker.
func (r *Runner) persist(cond observations.Condition, lambda float64, errs []float64) error {
	if _, err := validation.AppendLambda(r.Config.Experiment.OutputDir, cond, lambda, errs); err != nil {
		return fmt.Errorf("write metric file: %w", err)
	}
	if !r.Manager.MarkLambdaCompleted(cond, lambda) {
		return fmt.Errorf("%w: %s lambda %g is not tracked", experiment.ErrCorruptState, cond, lambda)
	}
	if err := r.Manager.Save(r.Config.Experiment.FiltersFile); err != nil {
		return fmt.Errorf("save experiment state: %w", err)
	}
	return nil
}

// Fit trains on every observation matching cond and returns the fitted congestion map.
func (r *Runner) Fit(ctx context.Context, cond observations.Condition, lambda float64) (export.CongestionMap, error) {
	if err := ctx.Err(); err != nil {
		return export.CongestionMap{}, err
	}
	sg, err := trendfilter.VertexSignal(r.Data.All(), r.Data.Graph, cond)
	if err != nil {
		return export.CongestionMap{}, err
	}
	d, err := trendfilter.DifferenceOperator(sg.Graph, r.Config.Experiment.Order)
	if err != nil {
		return export.CongestionMap{}, err
	}
	fitted, sol, err := trendfilter.FitSignal(sg, d, lambda, r.solverOptions())
	if err != nil {
		return export.CongestionMap{}, err
	}
	logging.LogOperation(r.Logger, "fit_completed",
		slog.String("filter", cond.String()),
		slog.Float64("lambda", lambda),
		slog.Int("stops", len(fitted)),
		slog.Int("iterations", sol.Iterations))

	m := export.Build(sg.Graph, fitted, cond, lambda)
	m.RunID = r.RunID
	return m, nil
}
