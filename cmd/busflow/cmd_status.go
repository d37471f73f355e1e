package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
)

func (c *cli) statusCmd() *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sweep progress per filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := c.openManager()
			if err != nil {
				return err
			}

			if dump {
				cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
				cfg.Fdump(c.stdout, manager.Filters())
				return nil
			}

			done, total := manager.Progress()
			fmt.Fprintf(c.stdout, "%d/%d lambdas completed, %d filters pending\n",
				done, total, len(manager.Uncompleted()))

			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILTER\tDONE\tPENDING")
			for _, f := range manager.Filters() {
				fmt.Fprintf(tw, "%s\t%d/%d\t%v\n",
					f.Condition, len(f.Values())-len(f.Pending()), len(f.Values()), f.Pending())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "dump the raw experiment state")
	return cmd
}
