// Package validation reads and writes the per-filter metric files produced by a sweep.
// Each file maps a lambda to the ordered errors of the held-out observations.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/statlearn/busflow/internal/fsutil"
	"github.com/statlearn/busflow/internal/logging"
	"github.com/statlearn/busflow/internal/observations"
)

const (
	filePrefix = "val_"
	fileSuffix = ".json"
)

// ErrBadFileName is returned for a metric file name that does not encode a filter.
var ErrBadFileName = errors.New("validation: not a metric file name")

// Lambda is a regularization strength used as a JSON object key.
type Lambda float64

func (l Lambda) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(l), 'g', -1, 64)), nil
}

func (l *Lambda) UnmarshalText(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("lambda key %q: %w", b, err)
	}
	*l = Lambda(v)
	return nil
}

// MetricRecord maps each scored lambda to its per-observation errors.
type MetricRecord map[Lambda][]float64

// Lambdas returns the keys in increasing order.
func (r MetricRecord) Lambdas() []float64 {
	out := make([]float64, 0, len(r))
	for l := range r {
		out = append(out, float64(l))
	}
	sort.Float64s(out)
	return out
}

// FileName returns the metric file name of cond, e.g. val_day_0.json,
// val_weather_Clear.json or val_time_01-00_02-00.json.
func FileName(cond observations.Condition) string {
	value := cond.ValueString()
	if cond.Kind() == observations.KindTime {
		w := cond.Window()
		value = strings.ReplaceAll(w.Start.String(), ":", "-") + "_" + strings.ReplaceAll(w.End.String(), ":", "-")
	}
	return filePrefix + cond.Name() + "_" + value + fileSuffix
}

// ParseFileName recovers the filter from a metric file name. Directories are ignored.
func ParseFileName(name string) (observations.Condition, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
		return observations.Condition{}, fmt.Errorf("%w: %s", ErrBadFileName, base)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix)
	kind, value, ok := strings.Cut(body, "_")
	if !ok {
		return observations.Condition{}, fmt.Errorf("%w: %s", ErrBadFileName, base)
	}
	if kind == observations.KindTime.String() {
		start, end, ok := strings.Cut(value, "_")
		if !ok {
			return observations.Condition{}, fmt.Errorf("%w: %s", ErrBadFileName, base)
		}
		value = strings.ReplaceAll(start, "-", ":") + "-" + strings.ReplaceAll(end, "-", ":")
	}
	cond, err := observations.ParseCondition(kind + "=" + value)
	if err != nil {
		return observations.Condition{}, fmt.Errorf("%w: %s: %v", ErrBadFileName, base, err)
	}
	return cond, nil
}

// DecodeRecord parses a metric record.
func DecodeRecord(r io.Reader) (MetricRecord, error) {
	rec := MetricRecord{}
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ReadRecord loads the metric record at path.
func ReadRecord(path string) (MetricRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(f, nil, "metric_file")
	rec, err := DecodeRecord(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, nil
}

// WriteRecord replaces the metric record at path atomically.
func WriteRecord(path string, rec MetricRecord) error {
	return fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(rec)
	})
}

// AppendLambda stores errs under lambda in the metric file of cond inside dir,
// keeping the entries of other lambdas. It returns the file path.
func AppendLambda(dir string, cond observations.Condition, lambda float64, errs []float64) (string, error) {
	path := filepath.Join(dir, FileName(cond))
	rec, err := ReadRecord(path)
	if errors.Is(err, fs.ErrNotExist) {
		rec, err = MetricRecord{}, nil
	}
	if err != nil {
		return path, err
	}
	if errs == nil {
		errs = []float64{}
	}
	rec[Lambda(lambda)] = errs
	return path, WriteRecord(path, rec)
}

// Row is one error of one (filter, lambda) pair in long format.
type Row struct {
	Name   string
	Value  string
	Lambda float64
	Error  float64
}

// Rows flattens rec into long format, lambdas in increasing order.
func Rows(cond observations.Condition, rec MetricRecord) []Row {
	var out []Row
	for _, l := range rec.Lambdas() {
		for _, e := range rec[Lambda(l)] {
			out = append(out, Row{Name: cond.Name(), Value: cond.ValueString(), Lambda: l, Error: e})
		}
	}
	return out
}

// LoadDir reads every metric file in dir. Files whose names do not encode a filter
// are skipped with a warning.
func LoadDir(dir string, logger *slog.Logger) ([]Row, error) {
	logger = logging.OrDiscard(logger).With(slog.String("component", "validation"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		cond, err := ParseFileName(e.Name())
		if err != nil {
			logger.Warn("skipping file", slog.String("file", e.Name()), slog.String("reason", err.Error()))
			continue
		}
		rec, err := ReadRecord(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		n := len(rows)
		rows = append(rows, Rows(cond, rec)...)
		logging.LogOperation(logger, "metric_file_parsed",
			slog.String("file", e.Name()),
			slog.Int("rows", len(rows)-n))
	}
	return rows, nil
}
