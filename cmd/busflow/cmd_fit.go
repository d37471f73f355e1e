package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/statlearn/busflow/internal/export"
	"github.com/statlearn/busflow/internal/observations"
	"github.com/statlearn/busflow/internal/pipeline"
)

func (c *cli) fitCmd() *cobra.Command {
	var (
		filter string
		lambda float64
		out    string
	)
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit one filter on all observations and export the congestion map",
		Example: `  busflow fit --filter day=0 --lambda 8 --out map.json
  busflow fit --filter time=07:00-08:00 --lambda 32`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := observations.ParseCondition(filter)
			if err != nil {
				return err
			}
			if lambda < 0 {
				return fmt.Errorf("%w: lambda must be >= 0", observations.ErrConfiguration)
			}

			ds, err := pipeline.LoadDataset(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			runner := pipeline.NewRunner(c.cfg, ds, nil, c.logger)
			m, err := runner.Fit(cmd.Context(), cond, lambda)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				return m.Encode(c.stdout)
			}
			if err := export.WriteFile(out, m); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "wrote %s (%d stops, %d edges)\n", out, len(m.Stops), len(m.Edges))
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "filter as day=N, weather=NAME or time=HH:MM-HH:MM")
	cmd.Flags().Float64Var(&lambda, "lambda", 1, "regularization strength")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	_ = cmd.MarkFlagRequired("filter")
	return cmd
}
