package experiment

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statlearn/busflow/internal/observations"
)

var defaultLambdas = []float64{1, 2, 4, 8, 16}

func sampleFilters() []Filter {
	morning := observations.Interval{Start: 7 * 60, End: 8 * 60}
	return []Filter{
		NewFilter(observations.ByDay(0), []float64{1, 2, 4}),
		NewFilter(observations.ByWeather("Clear"), []float64{0.5, 8}),
		NewFilter(observations.ByTime(morning), []float64{16}),
	}
}

func TestFilter_Completed(t *testing.T) {
	f := NewFilter(observations.ByDay(1), []float64{1, 2})
	assert.False(t, f.Completed())
	assert.Equal(t, []float64{1, 2}, f.Pending())

	f.Lambdas[0].Completed = true
	assert.False(t, f.Completed())
	assert.Equal(t, []float64{2}, f.Pending())

	f.Lambdas[1].Completed = true
	assert.True(t, f.Completed())
	assert.Empty(t, f.Pending())
	assert.Equal(t, []float64{1, 2}, f.Values())
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	m := NewManager(sampleFilters(), nil)
	require.True(t, m.MarkLambdaCompleted(observations.ByDay(0), 2))
	require.True(t, m.MarkLambdaCompleted(observations.ByTime(observations.Interval{Start: 420, End: 480}), 16))

	path := filepath.Join(t.TempDir(), "filters.json")
	require.NoError(t, m.Save(path))

	loaded, err := FromFile(path, defaultLambdas, nil)
	require.NoError(t, err)

	assert.Equal(t, m.Filters(), loaded.Filters())
}

func TestManager_MarkLambdaCompleted_Idempotent(t *testing.T) {
	once := NewManager(sampleFilters(), nil)
	twice := NewManager(sampleFilters(), nil)

	assert.True(t, once.MarkLambdaCompleted(observations.ByWeather("clear"), 8))
	assert.True(t, twice.MarkLambdaCompleted(observations.ByWeather("clear"), 8))
	assert.True(t, twice.MarkLambdaCompleted(observations.ByWeather("clear"), 8))

	assert.Equal(t, once.Filters(), twice.Filters())
	done, total := twice.Progress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 6, total)
}

func TestManager_MarkLambdaCompleted_Miss(t *testing.T) {
	m := NewManager(sampleFilters(), nil)
	before := m.Filters()

	assert.False(t, m.MarkLambdaCompleted(observations.ByDay(5), 1), "unknown filter")
	assert.False(t, m.MarkLambdaCompleted(observations.ByDay(0), 3), "unknown lambda")

	assert.Equal(t, before, m.Filters())
}

func TestManager_MarksByValueNotPosition(t *testing.T) {
	m := NewManager([]Filter{NewFilter(observations.ByDay(2), []float64{64, 1, 8})}, nil)

	m.MarkLambdaCompleted(observations.ByDay(2), 8)

	f, ok := m.Filter(observations.ByDay(2))
	require.True(t, ok)
	assert.Equal(t, []LambdaState{{64, false}, {1, false}, {8, true}}, f.Lambdas)
}

func TestManager_Partitions(t *testing.T) {
	m := NewManager(sampleFilters(), nil)
	m.MarkLambdaCompleted(observations.ByWeather("Clear"), 0.5)
	m.MarkLambdaCompleted(observations.ByWeather("Clear"), 8)

	completed := m.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, observations.ByWeather("Clear"), completed[0].Condition)

	uncompleted := m.Uncompleted()
	require.Len(t, uncompleted, 2)
	assert.Equal(t, "day=0", uncompleted[0].String())
	assert.Equal(t, "time=07:00-08:00", uncompleted[1].String())
}

func TestManager_FiltersAreCopies(t *testing.T) {
	m := NewManager(sampleFilters(), nil)

	fs := m.Filters()
	fs[0].Lambdas[0].Completed = true

	assert.False(t, m.Filters()[0].Lambdas[0].Completed)
}

func TestFromReader_LegacyEntriesGetDefaults(t *testing.T) {
	legacy := `[
		{"name": "day", "value": 0, "completed": true},
		{"name": "weather", "value": "rain", "completed": false, "lambdas": [1, 2]}
	]`

	m, err := FromReader(strings.NewReader(legacy), defaultLambdas, nil)
	require.NoError(t, err)

	fs := m.Filters()
	require.Len(t, fs, 2)
	assert.Equal(t, defaultLambdas, fs[0].Values())
	require.Len(t, fs[0].Lambdas, 5)
	for _, l := range fs[0].Lambdas {
		assert.False(t, l.Completed)
	}
	assert.Equal(t, observations.ByWeather("Rain"), fs[1].Condition)
	assert.Equal(t, []LambdaState{{1, false}, {2, false}}, fs[1].Lambdas)
}

func TestFromReader_Values(t *testing.T) {
	body := `{"filters": [
		{"name": "day", "value": "3"},
		{"name": "time", "value": "23:00-00:00", "lambdas": [4], "lambdas_completed": [true]},
		{"name": "time", "value": ["01:00", "02:00"], "lambdas": []}
	]}`

	m, err := FromReader(strings.NewReader(body), defaultLambdas, nil)
	require.NoError(t, err)

	fs := m.Filters()
	require.Len(t, fs, 3)
	assert.Equal(t, observations.ByDay(3), fs[0].Condition)
	assert.Equal(t, "time=23:00-00:00", fs[1].String())
	assert.True(t, fs[1].Completed())
	assert.Empty(t, fs[2].Lambdas)
}

func TestFromReader_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{name: "Length mismatch", body: `{"filters":[{"name":"day","value":1,"lambdas":[1,2],"lambdas_completed":[true]}]}`, err: ErrCorruptState},
		{name: "Unknown name", body: `{"filters":[{"name":"month","value":1}]}`, err: ErrConfiguration},
		{name: "Bad day", body: `{"filters":[{"name":"day","value":9}]}`, err: ErrConfiguration},
		{name: "Bad interval", body: `{"filters":[{"name":"time","value":["25:00","02:00"]}]}`, err: ErrConfiguration},
		{name: "Duplicate filter", body: `[{"name":"day","value":1},{"name":"day","value":1}]`, err: ErrCorruptState},
		{name: "Not JSON", body: `{"filters":`, err: ErrCorruptState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tt.body), defaultLambdas, nil)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEncode_Layout(t *testing.T) {
	m := NewManager([]Filter{NewFilter(observations.ByTime(observations.Interval{Start: 60, End: 120}), []float64{1, 2})}, nil)
	m.MarkLambdaCompleted(observations.ByTime(observations.Interval{Start: 60, End: 120}), 1)

	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))

	assert.JSONEq(t, `{"filters":[{
		"name": "time",
		"value": ["01:00", "02:00"],
		"lambdas": [1, 2],
		"lambdas_completed": [true, false],
		"completed": false
	}]}`, buf.String())
}

func TestSave_FailureKeepsPreviousState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filters.json")
	m := NewManager(sampleFilters(), nil)
	require.NoError(t, m.Save(path))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	bad := NewManager([]Filter{{Condition: observations.Condition{}}}, nil)
	assert.Error(t, bad.Save(path))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.json")
	grid := Grid{Lambdas: defaultLambdas, Weather: []string{"Clear", "Rain"}, IntervalMinutes: 60}

	m, err := Open(path, grid, nil)
	require.NoError(t, err)
	assert.Len(t, m.Filters(), 7+2+24)

	m.MarkLambdaCompleted(observations.ByDay(0), 1)
	require.NoError(t, m.Save(path))

	reopened, err := Open(path, grid, nil)
	require.NoError(t, err)
	assert.Equal(t, m.Filters(), reopened.Filters())
}

func TestOpen_CorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := Open(path, Grid{Lambdas: defaultLambdas}, nil)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestDefaultGrid(t *testing.T) {
	fs, err := DefaultGrid(Grid{Lambdas: []float64{1}, Weather: []string{"clouds"}})
	require.NoError(t, err)

	require.Len(t, fs, 8)
	assert.Equal(t, "day=0", fs[0].String())
	assert.Equal(t, "day=6", fs[6].String())
	assert.Equal(t, "weather=Clouds", fs[7].String())
}
