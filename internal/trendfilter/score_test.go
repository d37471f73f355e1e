package trendfilter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statlearn/busflow/internal/observations"
	"github.com/statlearn/busflow/internal/validation"
)

func TestScore(t *testing.T) {
	fitted := map[string]float64{"a": 0.1, "b": 0.2}
	val := []observations.Observation{
		{DestinationStopID: "a", Elapsed: 12, Distance: 100, DayOfWeek: 3},
		{DestinationStopID: "missing", Elapsed: 12, Distance: 100, DayOfWeek: 3},
		{DestinationStopID: "b", Elapsed: 15, Distance: 100, DayOfWeek: 3},
		{DestinationStopID: "b", Elapsed: 15, Distance: 100, DayOfWeek: 4},
	}

	errs, err := Score(val, observations.ByDay(3), fitted, SquaredError)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 25}, errs, 1e-9)

	abs, err := Score(val, observations.ByDay(3), fitted, AbsoluteError)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 5}, abs, 1e-9)
}

func TestScore_DropsUnfittedDestinations(t *testing.T) {
	val := []observations.Observation{
		{DestinationStopID: "x", Weather: "Clear"},
		{DestinationStopID: "y", Weather: "Clear"},
	}

	errs, err := Score(val, observations.ByWeather("Clear"), map[string]float64{"x": 1}, SquaredError)
	require.NoError(t, err)
	assert.Len(t, errs, 1)

	errs, err = Score(val, observations.ByWeather("Clear"), nil, SquaredError)
	require.NoError(t, err)
	assert.NotNil(t, errs)
	assert.Empty(t, errs)
}

func TestScore_SkipsNonFinite(t *testing.T) {
	fitted := map[string]float64{"a": 0.1}
	val := []observations.Observation{
		{DestinationStopID: "a", Elapsed: 12, Distance: 100, DayOfWeek: 3},
		{DestinationStopID: "a", Elapsed: math.NaN(), Distance: 100, DayOfWeek: 3},
		{DestinationStopID: "a", Elapsed: 12, Distance: math.Inf(1), DayOfWeek: 3},
	}

	for _, metric := range []Metric{SquaredError, AbsoluteError} {
		errs, err := Score(val, observations.ByDay(3), fitted, metric)
		require.NoError(t, err)
		require.Len(t, errs, 1, "metric=%v", metric)
		assert.False(t, math.IsNaN(errs[0]) || math.IsInf(errs[0], 0))

		// The scored errors must serialize into the metric file.
		_, err = validation.AppendLambda(t.TempDir(), observations.ByDay(3), 1, errs)
		assert.NoError(t, err)
	}
}

func TestScore_InvalidCondition(t *testing.T) {
	_, err := Score(nil, observations.Condition{}, nil, SquaredError)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Score(nil, observations.ByDay(1), nil, Metric(7))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, SquaredError, m)

	m, err = ParseMetric("Absolute")
	require.NoError(t, err)
	assert.Equal(t, AbsoluteError, m)
	assert.Equal(t, "absolute", m.String())

	_, err = ParseMetric("huber")
	assert.ErrorIs(t, err, ErrConfiguration)
}
