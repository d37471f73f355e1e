package observations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/statlearn/busflow/internal/logging"
)

// Column names of the observation table.
const (
	ColumnOrigin      = "stop_id_pre"
	ColumnDestination = "stop_id_post"
	ColumnElapsed     = "elapsed"
	ColumnDistance    = "stop_distance"
	ColumnTimestamp   = "time_pre_datetime"
	ColumnDayOfWeek   = "day_of_week"
	ColumnWeather     = "weather_main_post"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("observations: missing required column")

	// ErrNonFinite is returned for NaN or Inf in a numeric column.
	ErrNonFinite = errors.New("observations: value is not finite")
)

var requiredColumns = []string{ColumnDestination, ColumnElapsed, ColumnDistance, ColumnTimestamp, ColumnWeather}

// OpenCSV reads an observation table from path. Files ending in .zst or .gz are
// decompressed on the fly. Naive timestamps are interpreted in loc.
func OpenCSV(path string, loc *time.Location, logger *slog.Logger) ([]Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open observations: %w", err)
	}
	defer logging.SafeCloseWithLogging(f, logger, "observations_file")

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer logging.SafeCloseWithLogging(gz, logger, "observations_gzip")
		r = gz
	}

	obs, err := ReadCSV(r, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logging.LogOperation(logger, "observations_loaded",
		slog.String("path", path),
		slog.Int("rows", len(obs)))
	return obs, nil
}

// ReadCSV parses an observation table with a header row.
// The day_of_week column is optional; it is derived from the timestamp when absent or empty.
func ReadCSV(r io.Reader, loc *time.Location) ([]Observation, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := headerIndex(header)
	for _, col := range requiredColumns {
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var out []Observation
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}

		get := func(k string) string {
			i, ok := h[k]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		elapsed, err := parseFinite(get(ColumnElapsed))
		if err != nil {
			return nil, fmt.Errorf("row %d: elapsed: %w", line, err)
		}
		distance, err := parseFinite(get(ColumnDistance))
		if err != nil {
			return nil, fmt.Errorf("row %d: stop_distance: %w", line, err)
		}
		ts, err := parseTimestamp(get(ColumnTimestamp), loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		day := MondayBasedWeekday(ts)
		if s := get(ColumnDayOfWeek); s != "" {
			if day, err = parseDay(s); err != nil {
				return nil, fmt.Errorf("row %d: day_of_week: %w", line, err)
			}
		}

		out = append(out, Observation{
			OriginStopID:      get(ColumnOrigin),
			DestinationStopID: get(ColumnDestination),
			Elapsed:           elapsed,
			Distance:          distance,
			Timestamp:         ts,
			DayOfWeek:         day,
			Weather:           get(ColumnWeather),
		})
	}
	return out, nil
}

func headerIndex(header []string) map[string]int {
	h := make(map[string]int, len(header))
	for i, name := range header {
		h[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	return h
}

// parseDay accepts integer and float renderings ("3", "3.0") of the day index.
func parseDay(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	d := int(f)
	if float64(d) != f || d < 0 || d > 6 {
		return 0, fmt.Errorf("day %q out of range", s)
	}
	return d, nil
}

// parseTimestamp tries RFC 3339 first and then zone-less layouts in loc.
// Fractional seconds are accepted by every layout.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", s)
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrNonFinite, s)
	}
	return f, nil
}
