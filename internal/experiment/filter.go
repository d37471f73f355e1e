// Package experiment tracks which (filter, lambda) pairs of a validation sweep are done
// and persists that progress so an interrupted sweep can resume.
package experiment

import (
	"errors"
	"slices"

	"github.com/statlearn/busflow/internal/observations"
)

var (
	// ErrConfiguration is shared with the observations package.
	ErrConfiguration = observations.ErrConfiguration

	// ErrCorruptState is returned when persisted progress cannot be trusted.
	ErrCorruptState = errors.New("experiment: corrupt state file")
)

// LambdaState is one candidate regularization strength and whether it has been scored.
type LambdaState struct {
	Value     float64
	Completed bool
}

// Filter is one validation slice and the progress of its lambda sweep.
type Filter struct {
	Condition observations.Condition
	Lambdas   []LambdaState
}

// NewFilter starts a filter with every lambda pending.
func NewFilter(cond observations.Condition, lambdas []float64) Filter {
	states := make([]LambdaState, len(lambdas))
	for i, v := range lambdas {
		states[i] = LambdaState{Value: v}
	}
	return Filter{Condition: cond, Lambdas: states}
}

// Completed reports whether every lambda has been scored.
func (f Filter) Completed() bool {
	for _, l := range f.Lambdas {
		if !l.Completed {
			return false
		}
	}
	return true
}

// Pending returns the lambdas still to be scored, in sweep order.
func (f Filter) Pending() []float64 {
	var out []float64
	for _, l := range f.Lambdas {
		if !l.Completed {
			out = append(out, l.Value)
		}
	}
	return out
}

// Values returns every lambda in sweep order.
func (f Filter) Values() []float64 {
	out := make([]float64, len(f.Lambdas))
	for i, l := range f.Lambdas {
		out[i] = l.Value
	}
	return out
}

func (f Filter) String() string {
	return f.Condition.String()
}

func (f Filter) clone() Filter {
	f.Lambdas = slices.Clone(f.Lambdas)
	return f
}

// Grid describes the default sweep: every weekday, each weather category and each
// hourly window, all over the same lambdas.
type Grid struct {
	Lambdas         []float64
	Weather         []string
	IntervalMinutes int
}

// DefaultGrid expands g into filters, days first, then weather, then time windows.
// A zero IntervalMinutes leaves out the time windows.
func DefaultGrid(g Grid) ([]Filter, error) {
	var filters []Filter
	for day := 0; day < 7; day++ {
		filters = append(filters, NewFilter(observations.ByDay(day), g.Lambdas))
	}
	for _, w := range g.Weather {
		c := observations.ByWeather(w)
		if err := c.Validate(); err != nil {
			return nil, err
		}
		filters = append(filters, NewFilter(c, g.Lambdas))
	}
	if g.IntervalMinutes > 0 {
		windows, err := observations.HourlyIntervals(g.IntervalMinutes)
		if err != nil {
			return nil, err
		}
		for _, w := range windows {
			filters = append(filters, NewFilter(observations.ByTime(w), g.Lambdas))
		}
	}
	return filters, nil
}
