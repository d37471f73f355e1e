package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/statlearn/busflow/internal/observations"
)

// stateFile is the persisted layout. Lambdas and their flags are stored as parallel
// arrays, the format existing sweeps were written in.
type stateFile struct {
	Filters []filterEntry `json:"filters"`
}

type filterEntry struct {
	Name             string          `json:"name"`
	Value            json.RawMessage `json:"value"`
	Lambdas          []float64       `json:"lambdas"`
	LambdasCompleted []bool          `json:"lambdas_completed"`
	Completed        bool            `json:"completed"`
}

// Encode writes the progress as indented JSON.
func (m *Manager) Encode(w io.Writer) error {
	out := stateFile{Filters: make([]filterEntry, 0, len(m.filters))}
	for _, f := range m.filters {
		value, err := encodeValue(f.Condition)
		if err != nil {
			return err
		}
		entry := filterEntry{
			Name:             f.Condition.Name(),
			Value:            value,
			Lambdas:          make([]float64, len(f.Lambdas)),
			LambdasCompleted: make([]bool, len(f.Lambdas)),
			Completed:        f.Completed(),
		}
		for i, l := range f.Lambdas {
			entry.Lambdas[i] = l.Value
			entry.LambdasCompleted[i] = l.Completed
		}
		out.Filters = append(out.Filters, entry)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func encodeValue(c observations.Condition) (json.RawMessage, error) {
	switch c.Kind() {
	case observations.KindDay:
		return json.Marshal(c.Day())
	case observations.KindWeather:
		return json.Marshal(c.Weather())
	case observations.KindTime:
		w := c.Window()
		return json.Marshal([2]string{w.Start.String(), w.End.String()})
	default:
		return nil, fmt.Errorf("%w: cannot persist %v", ErrConfiguration, c)
	}
}

func decode(r io.Reader, defaults []float64) ([]Filter, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var entries []filterEntry
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &entries)
	} else {
		var sf stateFile
		err = json.Unmarshal(trimmed, &sf)
		entries = sf.Filters
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	filters := make([]Filter, 0, len(entries))
	seen := make(map[observations.Condition]bool, len(entries))
	for i, e := range entries {
		cond, err := decodeCondition(e.Name, e.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		if seen[cond] {
			return nil, fmt.Errorf("%w: filter %s listed twice", ErrCorruptState, cond)
		}
		seen[cond] = true

		lambdas, completed := e.Lambdas, e.LambdasCompleted
		if lambdas == nil {
			// Older state files tracked only a filter-level flag.
			lambdas, completed = defaults, nil
		}
		if completed == nil {
			completed = make([]bool, len(lambdas))
		}
		if len(completed) != len(lambdas) {
			return nil, fmt.Errorf("%w: filter %s has %d lambdas but %d completion flags",
				ErrCorruptState, cond, len(lambdas), len(completed))
		}

		f := Filter{Condition: cond, Lambdas: make([]LambdaState, len(lambdas))}
		for j := range lambdas {
			f.Lambdas[j] = LambdaState{Value: lambdas[j], Completed: completed[j]}
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func decodeCondition(name string, value json.RawMessage) (observations.Condition, error) {
	kind, err := observations.ParseKind(name)
	if err != nil {
		return observations.Condition{}, err
	}

	var c observations.Condition
	switch kind {
	case observations.KindDay:
		var day json.Number
		if err := json.Unmarshal(value, &day); err != nil {
			var s string
			if json.Unmarshal(value, &s) != nil {
				return c, fmt.Errorf("%w: day value %s", ErrConfiguration, value)
			}
			day = json.Number(s)
		}
		d, err := strconv.Atoi(day.String())
		if err != nil {
			return c, fmt.Errorf("%w: day value %s", ErrConfiguration, value)
		}
		c = observations.ByDay(d)
	case observations.KindWeather:
		var w string
		if err := json.Unmarshal(value, &w); err != nil {
			return c, fmt.Errorf("%w: weather value %s", ErrConfiguration, value)
		}
		c = observations.ByWeather(w)
	case observations.KindTime:
		var bounds []string
		if err := json.Unmarshal(value, &bounds); err != nil {
			var s string
			if json.Unmarshal(value, &s) != nil {
				return c, fmt.Errorf("%w: time value %s", ErrConfiguration, value)
			}
			start, end, _ := strings.Cut(s, "-")
			bounds = []string{start, end}
		}
		if len(bounds) != 2 {
			return c, fmt.Errorf("%w: time value %s needs two bounds", ErrConfiguration, value)
		}
		iv, err := observations.ParseInterval(bounds[0], bounds[1])
		if err != nil {
			return c, err
		}
		c = observations.ByTime(iv)
	}
	return c, c.Validate()
}
