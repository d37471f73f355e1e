package obsdb

import "github.com/statlearn/busflow/internal/appconf"

const defaultBatchSize = 500

// Config configures the observation database.
type Config struct {
	// DBPath is an SQLite file, or ":memory:".
	DBPath string
	Env    appconf.Environment
	// BatchSize is the number of rows per multi-row INSERT. Zero means 500.
	BatchSize int
}

// NewConfig returns a Config for path in env.
func NewConfig(path string, env appconf.Environment) Config {
	return Config{DBPath: path, Env: env}
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.BatchSize
}
