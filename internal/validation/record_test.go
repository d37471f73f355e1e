package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statlearn/busflow/internal/observations"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		cond     observations.Condition
		expected string
	}{
		{cond: observations.ByDay(0), expected: "val_day_0.json"},
		{cond: observations.ByWeather("clear"), expected: "val_weather_Clear.json"},
		{cond: observations.ByTime(observations.Interval{Start: 60, End: 120}), expected: "val_time_01-00_02-00.json"},
		{cond: observations.ByTime(observations.Interval{Start: 23 * 60, End: 0}), expected: "val_time_23-00_00-00.json"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FileName(tt.cond))

			parsed, err := ParseFileName("validation/" + tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.cond, parsed)
		})
	}
}

func TestParseFileName_Invalid(t *testing.T) {
	for _, name := range []string{"filters.json", "val_day.json", "val_month_1.json", "val_time_01-00.json", "val_day_0.feather"} {
		_, err := ParseFileName(name)
		assert.ErrorIs(t, err, ErrBadFileName, name)
	}
}

func TestDecodeRecord_NumericKeys(t *testing.T) {
	rec, err := DecodeRecord(strings.NewReader(`{"1": [0.5, 2], "0.25": [], "512": [3]}`))
	require.NoError(t, err)

	assert.Equal(t, []float64{0.25, 1, 512}, rec.Lambdas())
	assert.Equal(t, []float64{0.5, 2}, rec[1])
}

func TestDecodeRecord_BadKey(t *testing.T) {
	_, err := DecodeRecord(strings.NewReader(`{"one": [1]}`))
	assert.Error(t, err)
}

func TestAppendLambda(t *testing.T) {
	dir := t.TempDir()
	cond := observations.ByWeather("Rain")

	path, err := AppendLambda(dir, cond, 1, []float64{4, 9})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "val_weather_Rain.json"), path)

	_, err = AppendLambda(dir, cond, 0.5, nil)
	require.NoError(t, err)
	_, err = AppendLambda(dir, cond, 1, []float64{1})
	require.NoError(t, err)

	rec, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, MetricRecord{1: {1}, 0.5: {}}, rec)
}

func TestRows(t *testing.T) {
	rec := MetricRecord{2: {3, 4}, 1: {5}}

	rows := Rows(observations.ByDay(3), rec)

	assert.Equal(t, []Row{
		{Name: "day", Value: "3", Lambda: 1, Error: 5},
		{Name: "day", Value: "3", Lambda: 2, Error: 3},
		{Name: "day", Value: "3", Lambda: 2, Error: 4},
	}, rows)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteRecord(filepath.Join(dir, "val_day_1.json"), MetricRecord{8: {1, 2}}))
	require.NoError(t, WriteRecord(filepath.Join(dir, "val_time_07-00_08-00.json"), MetricRecord{8: {3}}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "df"), 0o755))

	rows, err := LoadDir(dir, nil)
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, Row{Name: "day", Value: "1", Lambda: 8, Error: 1}, rows[0])
	assert.Equal(t, Row{Name: "time", Value: "07:00-08:00", Lambda: 8, Error: 3}, rows[2])
}

func TestLoadDir_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "val_day_1.json"), []byte("{"), 0o644))

	_, err := LoadDir(dir, nil)
	assert.Error(t, err)
}
