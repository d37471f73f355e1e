package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where the run logger writes.
type Config struct {
	// Dir receives a rotating log file. Empty disables file output.
	Dir string
	// FileName defaults to "busflow.log".
	FileName string
	// Level is one of debug, info, warn, error.
	Level string
	// JSON switches the handler from text to JSON.
	JSON bool
	// MaxSizeMB is the rotation threshold of the log file.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewRunLogger builds the logger for one pipeline run. It writes to stderr and,
// when cfg.Dir is set, to a size-rotated file. The returned closer flushes the file.
func NewRunLogger(cfg Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	out := stderr
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := cfg.FileName
		if name == "" {
			name = "busflow.log"
		}
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, name),
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
		}
		closer = file
		out = io.MultiWriter(stderr, file)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
