package experiment

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/statlearn/busflow/internal/fsutil"
	"github.com/statlearn/busflow/internal/logging"
	"github.com/statlearn/busflow/internal/observations"
)

// Manager owns the filters of one experiment. It is not safe for concurrent use.
type Manager struct {
	filters []Filter
	logger  *slog.Logger
}

// NewManager takes a copy of filters.
func NewManager(filters []Filter, logger *slog.Logger) *Manager {
	m := &Manager{
		filters: make([]Filter, len(filters)),
		logger:  logging.OrDiscard(logger).With(slog.String("component", "experiment")),
	}
	for i, f := range filters {
		m.filters[i] = f.clone()
	}
	return m
}

// FromReader decodes persisted progress. Entries without lambdas get defaults, all pending.
func FromReader(r io.Reader, defaults []float64, logger *slog.Logger) (*Manager, error) {
	filters, err := decode(r, defaults)
	if err != nil {
		return nil, err
	}
	return NewManager(filters, logger), nil
}

// FromFile loads persisted progress from path.
func FromFile(path string, defaults []float64, logger *slog.Logger) (*Manager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(f, logger, "experiment_state")
	return FromReader(f, defaults, logger)
}

// Open loads the progress file at path, or starts the default grid when it does not exist yet.
func Open(path string, grid Grid, logger *slog.Logger) (*Manager, error) {
	m, err := FromFile(path, grid.Lambdas, logger)
	if err == nil {
		logging.LogOperation(m.logger, "experiment_state_loaded",
			slog.String("path", path),
			slog.Int("filters", len(m.filters)))
		return m, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	filters, err := DefaultGrid(grid)
	if err != nil {
		return nil, err
	}
	m = NewManager(filters, logger)
	logging.LogOperation(m.logger, "experiment_state_initialized",
		slog.String("path", path),
		slog.Int("filters", len(filters)))
	return m, nil
}

// Filters returns a copy of every filter in order.
func (m *Manager) Filters() []Filter {
	out := make([]Filter, len(m.filters))
	for i, f := range m.filters {
		out[i] = f.clone()
	}
	return out
}

// Uncompleted returns copies of the filters with at least one pending lambda.
func (m *Manager) Uncompleted() []Filter {
	var out []Filter
	for _, f := range m.filters {
		if !f.Completed() {
			out = append(out, f.clone())
		}
	}
	return out
}

// Completed returns copies of the filters whose lambdas are all done.
func (m *Manager) Completed() []Filter {
	var out []Filter
	for _, f := range m.filters {
		if f.Completed() {
			out = append(out, f.clone())
		}
	}
	return out
}

// Filter returns the filter for cond.
func (m *Manager) Filter(cond observations.Condition) (Filter, bool) {
	i := m.indexOf(cond)
	if i < 0 {
		return Filter{}, false
	}
	return m.filters[i].clone(), true
}

// Progress counts completed and total (filter, lambda) pairs.
func (m *Manager) Progress() (done, total int) {
	for _, f := range m.filters {
		for _, l := range f.Lambdas {
			total++
			if l.Completed {
				done++
			}
		}
	}
	return done, total
}

// MarkLambdaCompleted flags lambda as done for the filter on cond. The lambda is
// located by value. A miss changes nothing, is logged, and reports false.
// Marking an already completed lambda reports true.
func (m *Manager) MarkLambdaCompleted(cond observations.Condition, lambda float64) bool {
	i := m.indexOf(cond)
	if i < 0 {
		m.logger.Warn("filter not tracked", slog.String("filter", cond.String()), slog.Float64("lambda", lambda))
		return false
	}
	j := slices.IndexFunc(m.filters[i].Lambdas, func(l LambdaState) bool { return l.Value == lambda })
	if j < 0 {
		m.logger.Warn("lambda not tracked", slog.String("filter", cond.String()), slog.Float64("lambda", lambda))
		return false
	}
	m.filters[i].Lambdas[j].Completed = true
	return true
}

// Save writes the progress to path atomically.
func (m *Manager) Save(path string) error {
	err := fsutil.WriteFileAtomic(path, 0o644, m.Encode)
	if err != nil {
		logging.LogError(m.logger, "failed to save experiment state", err, slog.String("path", path))
		return err
	}
	return nil
}

func (m *Manager) indexOf(cond observations.Condition) int {
	return slices.IndexFunc(m.filters, func(f Filter) bool { return f.Condition == cond })
}
