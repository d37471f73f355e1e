package observations

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `stop_id_pre,stop_id_post,elapsed,stop_distance,time_pre_datetime,day_of_week,weather_main_post
70001,70002,60,300,2023-06-05 07:15:00,0,Clear
70002,70003,90.5,450,2023-06-05T08:01:30,,Clouds
70003,70004,30,0,2023-06-10 23:59:59.250,5.0,Rain
`

func TestReadCSV(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)

	obs, err := ReadCSV(strings.NewReader(sampleCSV), rome)
	require.NoError(t, err)
	require.Len(t, obs, 3)

	first := obs[0]
	assert.Equal(t, "70001", first.OriginStopID)
	assert.Equal(t, "70002", first.DestinationStopID)
	assert.Equal(t, 60.0, first.Elapsed)
	assert.Equal(t, 300.0, first.Distance)
	assert.Equal(t, 0, first.DayOfWeek)
	assert.Equal(t, "Clear", first.Weather)
	assert.Equal(t, 7, first.Timestamp.Hour())
	assert.Equal(t, rome, first.Timestamp.Location())

	assert.Equal(t, 0, obs[1].DayOfWeek, "2023-06-05 is a Monday")
	assert.Equal(t, 5, obs[2].DayOfWeek)
	assert.Equal(t, 59, obs[2].Timestamp.Second())
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("stop_id_post,elapsed\n1,2\n"), nil)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestReadCSV_BadValue(t *testing.T) {
	body := "stop_id_post,elapsed,stop_distance,time_pre_datetime,weather_main_post\n1,fast,2,2023-06-05 07:00:00,Clear\n"
	_, err := ReadCSV(strings.NewReader(body), nil)
	assert.Error(t, err)
}

func TestReadCSV_NonFinite(t *testing.T) {
	const header = "stop_id_post,elapsed,stop_distance,time_pre_datetime,weather_main_post\n"
	tests := []struct {
		name string
		row  string
	}{
		{name: "NaN elapsed", row: "1,NaN,200,2023-06-05 07:00:00,Clear\n"},
		{name: "Inf elapsed", row: "1,+Inf,200,2023-06-05 07:00:00,Clear\n"},
		{name: "Inf distance", row: "1,60,-inf,2023-06-05 07:00:00,Clear\n"},
		{name: "overflowing distance", row: "1,60,1e400,2023-06-05 07:00:00,Clear\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(header+tt.row), nil)
			assert.Error(t, err)
		})
	}

	_, err := ReadCSV(strings.NewReader(header+"1,NaN,200,2023-06-05 07:00:00,Clear\n"), nil)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestOpenCSV_Zstd(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	path := filepath.Join(t.TempDir(), "trip_live.csv.zst")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	obs, err := OpenCSV(path, time.UTC, nil)
	require.NoError(t, err)
	assert.Len(t, obs, 3)
}

func TestOpenCSV_Missing(t *testing.T) {
	_, err := OpenCSV(filepath.Join(t.TempDir(), "nope.csv"), time.UTC, nil)
	assert.Error(t, err)
}
