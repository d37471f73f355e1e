package obsdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/statlearn/busflow/internal/logging"
	"github.com/statlearn/busflow/internal/observations"
)

// ImportMetadata describes the last imported observation file.
type ImportMetadata struct {
	FileHash   string
	FileSource string
	ImportTime time.Time
	RowCount   int
}

// ImportObservations appends obs in a single transaction. Non-finite elapsed or
// distance values are rejected with observations.ErrNonFinite.
func (c *Client) ImportObservations(ctx context.Context, obs []observations.Observation) error {
	for i, o := range obs {
		if !o.Finite() {
			return fmt.Errorf("observation %d (%s -> %s): %w", i, o.OriginStopID, o.DestinationStopID, observations.ErrNonFinite)
		}
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, c.logger, "import_observations")

	if err := c.insertObservations(ctx, tx, obs); err != nil {
		return fmt.Errorf("unable to insert observations: %w", err)
	}
	return tx.Commit()
}

func (c *Client) insertObservations(ctx context.Context, tx *sql.Tx, obs []observations.Observation) error {
	const baseQuery = `INSERT INTO observations (
		origin_stop_id, destination_stop_id, elapsed, distance, observed_at, day_of_week, weather
	) VALUES `
	return bulkInsert(ctx, tx, baseQuery, "(?, ?, ?, ?, ?, ?, ?)", len(obs), c.config.batchSize(), func(i int) []any {
		o := obs[i]
		return []any{o.OriginStopID, o.DestinationStopID, o.Elapsed, o.Distance, o.Timestamp.Unix(), o.DayOfWeek, o.Weather}
	})
}

// ImportFile loads the observation CSV at path into the database, replacing earlier
// observations. A file whose content hash matches the last import is skipped; the
// second result reports whether an import happened.
func (c *Client) ImportFile(ctx context.Context, path string, loc *time.Location) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	hash := sha256.Sum256(b)
	hashStr := hex.EncodeToString(hash[:])

	existing, err := c.GetImportMetadata(ctx)
	switch {
	case err == nil && existing.FileHash == hashStr && existing.FileSource == path:
		logging.LogOperation(c.logger, "observations_unchanged_skipping_import",
			slog.String("hash", hashStr[:8]))
		return false, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("error checking import metadata: %w", err)
	}

	obs, err := observations.OpenCSV(path, loc, c.logger)
	if err != nil {
		return false, err
	}

	started := time.Now()
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer logging.SafeRollbackWithLogging(tx, c.logger, "import_file")

	if _, err := tx.ExecContext(ctx, "DELETE FROM observations"); err != nil {
		return false, fmt.Errorf("error clearing observations: %w", err)
	}
	if err := c.insertObservations(ctx, tx, obs); err != nil {
		return false, fmt.Errorf("unable to insert observations: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO import_metadata (id, file_hash, file_source, import_time, row_count)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_hash = excluded.file_hash,
			file_source = excluded.file_source,
			import_time = excluded.import_time,
			row_count = excluded.row_count`,
		hashStr, path, time.Now().Unix(), len(obs))
	if err != nil {
		return false, fmt.Errorf("error writing import metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	logging.LogOperation(c.logger, "observations_imported",
		slog.String("source", path),
		slog.Int("rows", len(obs)),
		slog.Duration("duration", time.Since(started)))
	return true, nil
}

// GetImportMetadata returns the last import, or sql.ErrNoRows.
func (c *Client) GetImportMetadata(ctx context.Context) (ImportMetadata, error) {
	var m ImportMetadata
	var unix int64
	err := c.DB.QueryRowContext(ctx,
		"SELECT file_hash, file_source, import_time, row_count FROM import_metadata WHERE id = 1").
		Scan(&m.FileHash, &m.FileSource, &unix, &m.RowCount)
	if err != nil {
		return ImportMetadata{}, err
	}
	m.ImportTime = time.Unix(unix, 0)
	return m, nil
}

// Observations returns the observations with from <= timestamp < to, in insertion order.
// A zero bound is open. Timestamps are returned in loc. Rows with a non-finite elapsed or
// distance are skipped and counted in a warning.
func (c *Client) Observations(ctx context.Context, from, to time.Time, loc *time.Location) ([]observations.Observation, error) {
	if loc == nil {
		loc = time.UTC
	}
	query := `SELECT origin_stop_id, destination_stop_id, elapsed, distance, observed_at, day_of_week, weather
		FROM observations WHERE 1 = 1`
	var args []any
	if !from.IsZero() {
		query += " AND observed_at >= ?"
		args = append(args, from.Unix())
	}
	if !to.IsZero() {
		query += " AND observed_at < ?"
		args = append(args, to.Unix())
	}
	query += " ORDER BY id"

	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "observation_rows")

	var out []observations.Observation
	skipped := 0
	for rows.Next() {
		var o observations.Observation
		var unix int64
		if err := rows.Scan(&o.OriginStopID, &o.DestinationStopID, &o.Elapsed, &o.Distance, &unix, &o.DayOfWeek, &o.Weather); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if !o.Finite() {
			skipped++
			continue
		}
		o.Timestamp = time.Unix(unix, 0).In(loc)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 && c.logger != nil {
		c.logger.Warn("non_finite_observations_skipped", slog.Int("rows", skipped))
	}
	return out, nil
}
