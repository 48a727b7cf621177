package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"crucible/internal/api"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect and manage records",
	}

	recordCmd.AddCommand(newRecordListCommand(ctx))
	recordCmd.AddCommand(newRecordShowCommand(ctx))
	recordCmd.AddCommand(newRecordHistoryCommand(ctx))
	recordCmd.AddCommand(newRecordSubmitCommand(ctx))
	for _, op := range []struct {
		name  string
		short string
	}{
		{api.OpCancel, "Cancel waiting or running records"},
		{api.OpReset, "Reset errored or cancelled records back to waiting"},
		{api.OpInvalidate, "Mark terminal records as not trustworthy"},
		{api.OpDelete, "Soft-delete records"},
		{api.OpUndelete, "Restore soft-deleted records"},
	} {
		recordCmd.AddCommand(newTransitionCommand(ctx, op.name, op.short))
	}
	return recordCmd
}

func newRecordListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var recordTypes []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := ctx.client().listRecords(cmd.Context(), recordListOptions{
				statuses:    statuses,
				recordTypes: recordTypes,
				limit:       limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(resp.Records))
			for _, rec := range resp.Records {
				rows = append(rows, []string{
					strconv.FormatInt(rec.ID, 10),
					rec.RecordType,
					rec.Status,
					rec.OwnerUser,
					rec.CreatedOn.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TYPE", "STATUS", "OWNER", "CREATED"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringSliceVar(&recordTypes, "type", nil, "Filter by record type (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to list")
	return cmd
}

func newRecordShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			rec, err := ctx.client().getRecord(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
}

func newRecordHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show a record's compute history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			history, err := ctx.client().recordHistory(cmd.Context(), id)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(history))
			for _, entry := range history {
				success := "failed"
				if entry.Success {
					success = "ok"
				}
				rows = append(rows, []string{
					strconv.FormatInt(entry.ID, 10),
					entry.ManagerName,
					success,
					entry.CreatedOn.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ATTEMPT", "MANAGER", "RESULT", "WHEN"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}
}

func newRecordSubmitCommand(ctx *commandContext) *cobra.Command {
	var recordType string
	var tag string
	var priority int
	var noDedup bool

	cmd := &cobra.Command{
		Use:   "submit <entries.json>",
		Short: "Submit records from a JSON file of entry objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read entries: %w", err)
			}
			var entries []map[string]any
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("parse entries: %w", err)
			}

			req := api.SubmitRequest{
				RecordType: recordType,
				Entries:    entries,
				ComputeTag: tag,
				Priority:   priority,
			}
			if noDedup {
				findExisting := false
				req.FindExisting = &findExisting
			}
			resp, err := ctx.client().submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d, matched existing %d\n", resp.NInserted, resp.NExisting)
			for idx, reason := range resp.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "entry %d rejected: %s\n", idx, reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&recordType, "type", "", "Record type to submit")
	cmd.Flags().StringVar(&tag, "tag", "", "Compute tag for routing")
	cmd.Flags().IntVar(&priority, "priority", 0, "Compute priority")
	cmd.Flags().BoolVar(&noDedup, "no-dedup", false, "Always create new records, never match existing ones")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newTransitionCommand(ctx *commandContext, op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " <id> [id...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseRecordID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			resp, err := ctx.client().transition(cmd.Context(), op, ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d of %d updated\n", op, resp.NUpdated, len(ids))
			for _, outcome := range resp.Outcomes {
				if !outcome.Updated {
					fmt.Fprintf(cmd.ErrOrStderr(), "record %d: %s\n", outcome.RecordID, outcome.Reason)
				}
			}
			return nil
		},
	}
}

func parseRecordID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", arg)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, payload any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
