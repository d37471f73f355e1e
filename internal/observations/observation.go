// Package observations holds the travel-time observation table and the
// filter conditions that slice it.
package observations

import (
	"math"
	"time"

	"github.com/statlearn/busflow/internal/geo"
)

// Observation is one measured travel time between consecutive stops.
type Observation struct {
	OriginStopID      string
	DestinationStopID string
	// Elapsed is the travel time in seconds.
	Elapsed float64
	// Distance is the distance between the stops in meters.
	Distance  float64
	Timestamp time.Time
	// DayOfWeek counts from Monday = 0 to Sunday = 6.
	DayOfWeek int
	Weather   string
}

// Finite reports whether both Elapsed and Distance are finite.
func (o Observation) Finite() bool {
	return !math.IsNaN(o.Elapsed) && !math.IsInf(o.Elapsed, 0) &&
		!math.IsNaN(o.Distance) && !math.IsInf(o.Distance, 0)
}

// Pace returns elapsed time per unit distance, and false when the distance cannot normalize it
// or either value is not finite.
func (o Observation) Pace() (float64, bool) {
	if o.Distance <= 0 || !o.Finite() {
		return 0, false
	}
	return o.Elapsed / o.Distance, true
}

// MondayBasedWeekday converts time.Weekday (Sunday = 0) to DayOfWeek numbering.
func MondayBasedWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Split separates observations taken before from (training) from those taken on or after it (validation).
func Split(obs []Observation, from time.Time) (train, validation []Observation) {
	for _, o := range obs {
		if o.Timestamp.Before(from) {
			train = append(train, o)
		} else {
			validation = append(validation, o)
		}
	}
	return train, validation
}

// Locator resolves stop coordinates.
type Locator interface {
	Coordinates(stopID string) (lat, lon float64, ok bool)
}

// BackfillDistances returns a copy of obs where non-positive distances are replaced by the
// geodesic distance between the two stops, when both are known to loc. The second result
// counts the rows that were filled.
func BackfillDistances(obs []Observation, loc Locator) ([]Observation, int) {
	out := make([]Observation, len(obs))
	copy(out, obs)

	filled := 0
	for i := range out {
		if out[i].Distance > 0 {
			continue
		}
		lat1, lon1, ok1 := loc.Coordinates(out[i].OriginStopID)
		lat2, lon2, ok2 := loc.Coordinates(out[i].DestinationStopID)
		if !ok1 || !ok2 {
			continue
		}
		if d := geo.Distance(lat1, lon1, lat2, lon2); d > 0 {
			out[i].Distance = d
			filled++
		}
	}
	return out, filled
}
