// Package fetch downloads missing input files from an object storage bucket.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/statlearn/busflow/internal/clock"
	"github.com/statlearn/busflow/internal/fsutil"
	"github.com/statlearn/busflow/internal/logging"
)

// ErrMissingData is returned when required inputs are still absent after downloading.
var ErrMissingData = errors.New("fetch: required data files are missing")

// DefaultMaxBodySize bounds a single download.
const DefaultMaxBodySize = 2 << 30

// File maps an object key under the base URL to a local path.
type File struct {
	Key  string
	Path string
}

// Fetcher downloads files over HTTP.
type Fetcher struct {
	Client      *http.Client
	MaxBodySize int64
	Logger      *slog.Logger
	// Clock times downloads. Nil means the system clock.
	Clock clock.Clock
}

// NewFetcher returns a Fetcher with the transport timeouts used for static feeds.
func NewFetcher(logger *slog.Logger) *Fetcher {
	return &Fetcher{
		Client: &http.Client{
			Timeout: 30 * time.Minute,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		MaxBodySize: DefaultMaxBodySize,
		Logger:      logging.OrDiscard(logger).With(slog.String("component", "fetch")),
		Clock:       clock.RealClock{},
	}
}

// EnsureFiles downloads every file that does not exist locally. Download failures are
// logged; the call fails with ErrMissingData when any file is still absent afterwards.
func (f *Fetcher) EnsureFiles(ctx context.Context, baseURL string, files []File) error {
	for _, file := range files {
		if fsutil.Exists(file.Path) {
			logging.LogOperation(f.Logger, "data_exists_locally", slog.String("path", file.Path))
			continue
		}
		if err := f.download(ctx, baseURL, file); err != nil {
			logging.LogError(f.Logger, "download failed", err,
				slog.String("key", file.Key),
				slog.String("path", file.Path))
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	var missing []string
	for _, file := range files {
		if !fsutil.Exists(file.Path) {
			missing = append(missing, file.Path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingData, strings.Join(missing, ", "))
	}
	logging.LogOperation(f.Logger, "all_files_present", slog.Int("count", len(files)))
	return nil
}

func (f *Fetcher) download(ctx context.Context, baseURL string, file File) error {
	src, err := url.JoinPath(baseURL, file.Key)
	if err != nil {
		return fmt.Errorf("build URL for %s: %w", file.Key, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}

	clk := f.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	started := clk.Now()
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(resp.Body, f.Logger, "download_body")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", src, resp.Status)
	}

	limit := f.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	var written int64
	err = fsutil.WriteFileAtomic(file.Path, 0o644, func(w io.Writer) error {
		n, err := io.Copy(w, io.LimitReader(resp.Body, limit+1))
		written = n
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if n > limit {
			return fmt.Errorf("response for %s exceeds size limit of %d bytes", file.Key, limit)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.LogOperation(f.Logger, "file_downloaded",
		slog.String("url", src),
		slog.String("path", file.Path),
		slog.Int64("bytes", written),
		slog.Duration("duration", clock.Since(clk, started)))
	return nil
}
