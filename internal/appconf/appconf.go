// Package appconf loads the YAML configuration of a busflow run.
package appconf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Rome must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/statlearn/busflow/internal/geo"
)

// Environment selects storage and safety checks.
type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// UnmarshalYAML accepts the environment by name.
func (e *Environment) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	env, err := ParseEnvironment(s)
	if err != nil {
		return err
	}
	*e = env
	return nil
}

// MarshalYAML writes the environment by name.
func (e Environment) MarshalYAML() (any, error) {
	return e.String(), nil
}

// ParseEnvironment maps a name onto an Environment.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "development", "dev":
		return Development, nil
	case "test":
		return Test, nil
	case "production", "prod":
		return Production, nil
	default:
		return Development, fmt.Errorf("unknown environment %q", s)
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("appconf: invalid configuration")

// Config is the whole run configuration.
type Config struct {
	Env        Environment      `yaml:"env"`
	Data       DataConfig       `yaml:"data"`
	Graph      GraphConfig      `yaml:"graph"`
	Split      SplitConfig      `yaml:"split"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Solver     SolverConfig     `yaml:"solver"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DataConfig locates the inputs.
type DataConfig struct {
	Dir string `yaml:"dir"`
	// GTFS is a static feed zip.
	GTFS string `yaml:"gtfs"`
	// Observations is a CSV file, optionally zstd-compressed (.zst).
	Observations string `yaml:"observations"`
	// Database, when set, is an SQLite file the observations are imported into and read from.
	Database string `yaml:"database"`
	// RemoteBaseURL is the object storage prefix missing inputs are downloaded from.
	RemoteBaseURL string `yaml:"remote_base_url"`
	Timezone      string `yaml:"timezone"`
}

// GraphConfig controls base graph construction.
type GraphConfig struct {
	AgencyID   string     `yaml:"agency_id"`
	RouteTypes []int      `yaml:"route_types"`
	Bounds     geo.Bounds `yaml:"bounds"`
	// CenterLat, CenterLon and RadiusMeters describe the study area when Bounds is unset.
	CenterLat    float64 `yaml:"center_lat"`
	CenterLon    float64 `yaml:"center_lon"`
	RadiusMeters float64 `yaml:"radius_meters"`
}

// SplitConfig separates training and validation observations.
type SplitConfig struct {
	// ValidationFrom is the first validation day, YYYY-MM-DD.
	ValidationFrom string `yaml:"validation_from"`
}

// ExperimentConfig describes the sweep.
type ExperimentConfig struct {
	FiltersFile string    `yaml:"filters_file"`
	OutputDir   string    `yaml:"output_dir"`
	Lambdas     []float64 `yaml:"lambdas"`
	Order       int       `yaml:"order"`
	// Metric is "squared" (default) or the deprecated "absolute".
	Metric string `yaml:"metric"`
	// IntervalMinutes is the width of the default time-of-day filters.
	IntervalMinutes int      `yaml:"interval_minutes"`
	Weather         []string `yaml:"weather"`
}

// SolverConfig tunes the ADMM solver.
type SolverConfig struct {
	Rho       float64 `yaml:"rho"`
	GapTol    float64 `yaml:"gap_tol"`
	MaxIter   int     `yaml:"max_iter"`
	CGTol     float64 `yaml:"cg_tol"`
	CGMaxIter int     `yaml:"cg_max_iter"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the Prometheus textfile written after a run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when a field is not set.
func Default() Config {
	return Config{
		Env: Development,
		Data: DataConfig{
			Dir:           "data",
			GTFS:          "data/static/gtfs.zip",
			Observations:  "data/trip_live_final.csv.zst",
			RemoteBaseURL: "https://statistical-learning.s3.amazonaws.com",
			Timezone:      "Europe/Rome",
		},
		Graph: GraphConfig{
			AgencyID:   "OP1",
			RouteTypes: []int{3},
		},
		Split: SplitConfig{ValidationFrom: "2023-06-09"},
		Experiment: ExperimentConfig{
			FiltersFile:     "filters.json",
			OutputDir:       "validation",
			Lambdas:         []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
			Order:           2,
			Metric:          "squared",
			IntervalMinutes: 60,
			Weather:         []string{"Clear", "Clouds", "Rain"},
		},
		Solver: SolverConfig{
			Rho:       1,
			GapTol:    1e-10,
			MaxIter:   20000,
			CGTol:     1e-10,
			CGMaxIter: 1000,
		},
		Logging: LoggingConfig{Dir: "logs", Level: "info"},
		Metrics: MetricsConfig{Textfile: "validation/busflow.prom"},
	}
}

// Load reads path over the defaults. Fields absent from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var problems []string
	if len(c.Experiment.Lambdas) == 0 {
		problems = append(problems, "experiment.lambdas must not be empty")
	}
	seen := make(map[float64]bool, len(c.Experiment.Lambdas))
	for _, l := range c.Experiment.Lambdas {
		if l < 0 {
			problems = append(problems, fmt.Sprintf("experiment.lambdas: negative value %g", l))
		}
		if seen[l] {
			problems = append(problems, fmt.Sprintf("experiment.lambdas: duplicate value %g", l))
		}
		seen[l] = true
	}
	if c.Experiment.Order < 1 {
		problems = append(problems, "experiment.order must be >= 1")
	}
	switch c.Experiment.Metric {
	case "", "squared", "absolute":
	default:
		problems = append(problems, fmt.Sprintf("experiment.metric: unknown metric %q", c.Experiment.Metric))
	}
	if c.Experiment.IntervalMinutes <= 0 {
		problems = append(problems, "experiment.interval_minutes must be > 0")
	}
	if _, err := c.ValidationFrom(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Solver.Rho <= 0 || c.Solver.MaxIter <= 0 {
		problems = append(problems, "solver.rho and solver.max_iter must be > 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Location resolves the data timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Data.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Data.Timezone)
	if err != nil {
		return nil, fmt.Errorf("data.timezone: %w", err)
	}
	return loc, nil
}

// ValidationFrom parses the split date in the data timezone.
func (c Config) ValidationFrom() (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation("2006-01-02", c.Split.ValidationFrom, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("split.validation_from: %w", err)
	}
	return t, nil
}

// StudyArea returns the configured crop box, or the zero box when none is set.
func (c Config) StudyArea() geo.Bounds {
	if !c.Graph.Bounds.IsZero() {
		return c.Graph.Bounds
	}
	if c.Graph.RadiusMeters > 0 {
		return geo.CalculateBounds(c.Graph.CenterLat, c.Graph.CenterLon, c.Graph.RadiusMeters)
	}
	return geo.Bounds{}
}
