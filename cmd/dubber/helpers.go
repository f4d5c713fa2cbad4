package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dubber/internal/api"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

// formatTimestamp renders an API timestamp in local time, or "-" when empty.
func formatTimestamp(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return parsed.Local().Format("2006-01-02 15:04")
}

func printJobDetails(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Job %s\n", job.ID)
	fmt.Fprintf(out, "  Title:     %s\n", job.Title)
	fmt.Fprintf(out, "  User:      %s\n", job.UserID)
	fmt.Fprintf(out, "  Input:     %s\n", job.InputVideo)
	if job.SourceLanguage != "" {
		fmt.Fprintf(out, "  Source:    %s\n", job.SourceLanguage)
	}
	fmt.Fprintf(out, "  Target:    %s\n", job.TargetLanguage)
	fmt.Fprintf(out, "  Priority:  %d\n", job.Priority)
	fmt.Fprintf(out, "  Status:    %s (%d%%)\n", job.Status, job.Progress)
	fmt.Fprintf(out, "  Retries:   %d/%d\n", job.RetryCount, job.MaxRetries)
	if job.RetryOf != "" {
		fmt.Fprintf(out, "  Retry of:  %s\n", job.RetryOf)
	}
	if job.NextRetryAt != "" {
		fmt.Fprintf(out, "  Next try:  %s\n", formatTimestamp(job.NextRetryAt))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:     %s\n", job.ErrorMessage)
	}
	if job.OutputVideo != "" {
		fmt.Fprintf(out, "  Output:    %s\n", job.OutputVideo)
	}
	fmt.Fprintf(out, "  Created:   %s\n", formatTimestamp(job.CreatedAt))
	if job.StartedAt != "" {
		fmt.Fprintf(out, "  Started:   %s\n", formatTimestamp(job.StartedAt))
	}
	if job.CompletedAt != "" {
		fmt.Fprintf(out, "  Completed: %s\n", formatTimestamp(job.CompletedAt))
	}

	if len(job.Stages) > 0 {
		rows := make([][]string, 0, len(job.Stages))
		for _, st := range job.Stages {
			cost := "-"
			if st.Cost > 0 {
				cost = fmt.Sprintf("$%.4f", st.Cost)
			}
			service := st.ServiceUsed
			if service == "" {
				service = "-"
			}
			rows = append(rows, []string{
				st.Name,
				st.Status,
				service,
				fmt.Sprintf("%d", st.Attempts),
				cost,
			})
		}
		fmt.Fprintln(out)
		table := renderTable(
			[]string{"Stage", "Status", "Service", "Attempts", "Cost"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
		)
		fmt.Fprintln(out, table)
	}

	if job.Cost != nil && job.Cost.TotalCost > 0 {
		fmt.Fprintf(out, "\nTotal cost: $%.4f", job.Cost.TotalCost)
		if job.Cost.TTSCharacters > 0 {
			fmt.Fprintf(out, " (%d TTS characters, $%.4f)", job.Cost.TTSCharacters, job.Cost.TTSCost)
		}
		fmt.Fprintln(out)
	}
}
