package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newManagerCommand(ctx *commandContext) *cobra.Command {
	managerCmd := &cobra.Command{
		Use:   "manager",
		Short: "Inspect compute managers",
	}
	managerCmd.AddCommand(newManagerListCommand(ctx))
	return managerCmd
}

func newManagerListCommand(ctx *commandContext) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered compute managers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			managers, err := ctx.client().listManagers(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(managers))
			for _, m := range managers {
				programs := make([]string, 0, len(m.Programs))
				for name := range m.Programs {
					programs = append(programs, name)
				}
				sort.Strings(programs)
				rows = append(rows, []string{
					m.Name,
					m.Cluster,
					m.Status,
					strings.Join(programs, ","),
					m.ModifiedOn.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"NAME", "CLUSTER", "STATUS", "PROGRAMS", "LAST SEEN"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only show active managers")
	return cmd
}
