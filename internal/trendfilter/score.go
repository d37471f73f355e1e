package trendfilter

import (
	"fmt"
	"math"
	"strings"

	"github.com/statlearn/busflow/internal/observations"
)

// Metric is the per-observation validation error.
type Metric int

const (
	// SquaredError is (fitted × distance - elapsed)².
	SquaredError Metric = iota
	// AbsoluteError is |fitted × distance - elapsed|.
	//
	// Deprecated: kept to re-score old sweeps; new runs use SquaredError.
	AbsoluteError
)

func (m Metric) String() string {
	switch m {
	case SquaredError:
		return "squared"
	case AbsoluteError:
		return "absolute"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// ParseMetric accepts "squared" (or empty) and "absolute".
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "squared":
		return SquaredError, nil
	case "absolute":
		return AbsoluteError, nil
	default:
		return 0, fmt.Errorf("%w: unknown metric %q", ErrConfiguration, s)
	}
}

// Score predicts the elapsed time of every held-out observation matching cond from the
// fitted pace of its destination stop and returns the errors in table order. Observations
// whose destination has no fitted value, or with a non-finite elapsed or distance, are skipped.
func Score(val []observations.Observation, cond observations.Condition, fitted map[string]float64, metric Metric) ([]float64, error) {
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	if metric != SquaredError && metric != AbsoluteError {
		return nil, fmt.Errorf("%w: unknown metric %s", ErrConfiguration, metric)
	}

	errs := make([]float64, 0)
	for _, o := range val {
		if !cond.Match(o) || !o.Finite() {
			continue
		}
		pace, ok := fitted[o.DestinationStopID]
		if !ok {
			continue
		}
		residual := pace*o.Distance - o.Elapsed
		if metric == AbsoluteError {
			errs = append(errs, math.Abs(residual))
		} else {
			errs = append(errs, residual*residual)
		}
	}
	return errs, nil
}
