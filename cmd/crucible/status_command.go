package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status and record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := ctx.client().status(cmd.Context())
			if err != nil {
				return err
			}

			statuses := make([]string, 0, len(status.RecordCounts))
			for name := range status.RecordCounts {
				statuses = append(statuses, name)
			}
			sort.Strings(statuses)

			rows := make([][]string, 0, len(statuses))
			for _, name := range statuses {
				rows = append(rows, []string{name, strconv.FormatInt(status.RecordCounts[name], 10)})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"STATUS", "RECORDS"}, rows,
				[]columnAlignment{alignLeft, alignRight}))
			fmt.Fprintf(out, "tasks waiting: %d  claimed: %d  active managers: %d\n",
				status.TasksWaiting, status.TasksClaimed, status.ActiveManagers)
			fmt.Fprintf(out, "record types: %s\n", strings.Join(status.RecordTypes, ", "))
			return nil
		},
	}
}
