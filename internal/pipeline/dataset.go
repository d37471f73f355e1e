package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/statlearn/busflow/internal/appconf"
	"github.com/statlearn/busflow/internal/fetch"
	"github.com/statlearn/busflow/internal/logging"
	"github.com/statlearn/busflow/internal/observations"
	"github.com/statlearn/busflow/internal/routegraph"
	"github.com/statlearn/busflow/obsdb"
)

// Dataset is everything a sweep reads: the base graph and the split observations.
type Dataset struct {
	Graph      *routegraph.Graph
	Train      []observations.Observation
	Validation []observations.Observation
	Location   *time.Location
}

// All returns training and validation observations together.
func (d *Dataset) All() []observations.Observation {
	out := make([]observations.Observation, 0, len(d.Train)+len(d.Validation))
	out = append(out, d.Train...)
	return append(out, d.Validation...)
}

// RequiredFiles lists the inputs of cfg with their object keys relative to the data directory.
func RequiredFiles(cfg appconf.Config) []fetch.File {
	var files []fetch.File
	for _, path := range []string{cfg.Data.GTFS, cfg.Data.Observations} {
		key, err := filepath.Rel(cfg.Data.Dir, path)
		if err != nil || strings.HasPrefix(key, "..") {
			key = filepath.Base(path)
		}
		files = append(files, fetch.File{Key: filepath.ToSlash(key), Path: path})
	}
	return files
}

// LoadDataset makes sure the inputs exist, builds the cropped base graph and reads and
// splits the observations. Missing inputs are fatal.
func LoadDataset(ctx context.Context, cfg appconf.Config, logger *slog.Logger) (*Dataset, error) {
	logger = logging.OrDiscard(logger)

	if err := fetch.NewFetcher(logger).EnsureFiles(ctx, cfg.Data.RemoteBaseURL, RequiredFiles(cfg)); err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	from, err := cfg.ValidationFrom()
	if err != nil {
		return nil, err
	}

	base, err := routegraph.LoadStatic(cfg.Data.GTFS, routegraph.BuildOptions{
		AgencyID:   cfg.Graph.AgencyID,
		RouteTypes: cfg.Graph.RouteTypes,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	graph := base
	if area := cfg.StudyArea(); !area.IsZero() {
		graph = base.Crop(area)
		logging.LogOperation(logger, "study_area_cropped",
			slog.Int("stops_before", base.NumStops()),
			slog.Int("stops_after", graph.NumStops()))
	}

	obs, err := loadObservations(ctx, cfg, loc, logger)
	if err != nil {
		return nil, err
	}
	obs, filled := observations.BackfillDistances(obs, graph)
	train, val := observations.Split(obs, from)

	logging.LogOperation(logger, "dataset_loaded",
		slog.Int("stops", graph.NumStops()),
		slog.Int("edges", graph.NumEdges()),
		slog.Int("train", len(train)),
		slog.Int("validation", len(val)),
		slog.Int("distances_backfilled", filled),
		slog.Time("validation_from", from))
	return &Dataset{Graph: graph, Train: train, Validation: val, Location: loc}, nil
}

func loadObservations(ctx context.Context, cfg appconf.Config, loc *time.Location, logger *slog.Logger) ([]observations.Observation, error) {
	if cfg.Data.Database == "" {
		return observations.OpenCSV(cfg.Data.Observations, loc, logger)
	}

	client, err := obsdb.NewClient(ctx, obsdb.NewConfig(cfg.Data.Database, cfg.Env), logger)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(client, logger, "observation_db")

	if _, err := client.ImportFile(ctx, cfg.Data.Observations, loc); err != nil {
		return nil, fmt.Errorf("import observations: %w", err)
	}
	return client.Observations(ctx, time.Time{}, time.Time{}, loc)
}
