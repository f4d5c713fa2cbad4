package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"dubber/internal/api"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var allUsers bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dubbing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			user := ctx.username()
			if allUsers {
				user = ""
			}

			var resp api.JobListResponse
			if err := client.Jobs(cmd.Context(), user, strings.TrimSpace(statusFilter), &resp); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, resp.Jobs)
			}
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
				return nil
			}

			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					shortID(job.ID),
					truncate(job.Title, 32),
					job.UserID,
					job.TargetLanguage,
					job.Status,
					fmt.Sprintf("%d%%", job.Progress),
					fmt.Sprintf("%d", job.Priority),
					formatTimestamp(job.CreatedAt),
				})
			}
			table := renderTable(
				[]string{"ID", "Title", "User", "Target", "Status", "Progress", "Priority", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by job status")
	cmd.Flags().BoolVarP(&allUsers, "all", "a", false, "List jobs for all users")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show details for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var resp api.JobResponse
			if err := client.Job(cmd.Context(), strings.TrimSpace(args[0]), &resp); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp.Job)
			}
			printJobDetails(cmd, resp.Job)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a summary")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			if err := client.Cancel(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", id)
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Resubmit a failed job as a fresh copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var resp api.JobResponse
			if err := client.Retry(cmd.Context(), strings.TrimSpace(args[0]), &resp); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp.Job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created retry job %s from %s\n", resp.Job.ID, resp.Job.RetryOf)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a summary")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a job and its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			if err := client.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", id)
			return nil
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue status counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var resp api.QueueStatsResponse
			if err := client.QueueStats(cmd.Context(), &resp); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}

			rows := buildQueueStatsRows(resp.Counts)
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

// statusDisplayOrder fixes the row order for stats output; unknown
// statuses sort alphabetically after the known ones.
var statusDisplayOrder = []string{"total", "pending", "processing", "completed", "failed", "cancelled"}

func buildQueueStatsRows(counts map[string]int) [][]string {
	if len(counts) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(counts))
	rows := make([][]string, 0, len(counts))
	for _, status := range statusDisplayOrder {
		if count, ok := counts[status]; ok {
			rows = append(rows, []string{status, fmt.Sprintf("%d", count)})
			seen[status] = true
		}
	}
	extra := make([]string, 0)
	for status := range counts {
		if !seen[status] {
			extra = append(extra, status)
		}
	}
	sort.Strings(extra)
	for _, status := range extra {
		rows = append(rows, []string{status, fmt.Sprintf("%d", counts[status])})
	}
	return rows
}
