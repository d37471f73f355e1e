package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/statlearn/busflow/internal/appconf"
	"github.com/statlearn/busflow/internal/fsutil"
	"github.com/statlearn/busflow/internal/logging"
	"github.com/statlearn/busflow/internal/validation"
	"github.com/statlearn/busflow/obsdb"
)

func (c *cli) reportCmd() *cobra.Command {
	var (
		dir  string
		out  string
		best bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Average the validation errors per filter and lambda",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = c.cfg.Experiment.OutputDir
			}
			rows, err := validation.LoadDir(dir, c.logger)
			if err != nil {
				return err
			}

			// The aggregation runs in a scratch database; nothing is kept.
			client, err := obsdb.NewClient(cmd.Context(), obsdb.NewConfig(":memory:", appconf.Test), c.logger)
			if err != nil {
				return err
			}
			defer logging.SafeCloseWithLogging(client, c.logger, "report_db")

			if err := client.ImportErrors(cmd.Context(), rows); err != nil {
				return err
			}
			var means []obsdb.MeanError
			if best {
				means, err = client.BestLambdas(cmd.Context())
			} else {
				means, err = client.AverageErrors(cmd.Context())
			}
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				return writeMeans(c.stdout, means)
			}
			return fsutil.WriteFileAtomic(out, 0o644, func(w io.Writer) error {
				return writeMeans(w, means)
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of metric files (default experiment.output_dir)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output CSV file, - for stdout")
	cmd.Flags().BoolVar(&best, "best", false, "only the lambda with the lowest mean error per filter")
	return cmd
}

func writeMeans(w io.Writer, means []obsdb.MeanError) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"name", "value", "lambda", "avg_error", "count"}); err != nil {
		return err
	}
	for _, m := range means {
		err := cw.Write([]string{
			m.Name,
			m.Value,
			strconv.FormatFloat(m.Lambda, 'g', -1, 64),
			strconv.FormatFloat(m.AvgError, 'g', -1, 64),
			strconv.Itoa(m.Count),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
