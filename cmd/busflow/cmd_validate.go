package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/statlearn/busflow/internal/logging"
	"github.com/statlearn/busflow/internal/pipeline"
)

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run the lambda sweep over every pending filter, resuming from saved state",
		Args:  cobra.NoArgs,
		RunE:  c.runValidate,
	}
}

func (c *cli) runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ds, err := pipeline.LoadDataset(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	manager, err := c.openManager()
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(c.cfg, ds, manager, c.logger)
	summary, runErr := runner.Run(ctx)

	if path := c.cfg.Metrics.Textfile; path != "" {
		if err := runner.Metrics.WriteTextfile(path); err != nil {
			logging.LogError(c.logger, "failed to write metrics textfile", err, slog.String("path", path))
		}
	}

	fmt.Fprintf(c.stdout, "run %s: %d completed, %d failed, %d skipped, %d remaining (%s)\n",
		summary.RunID, summary.Completed, summary.Failed, summary.Skipped, summary.Remaining,
		summary.Duration.Round(time.Millisecond))
	return runErr
}
