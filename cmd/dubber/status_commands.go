package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dubber/internal/api"
	"dubber/internal/daemonctl"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and workflow status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var status api.DaemonStatus
			if err := client.Status(cmd.Context(), &status); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := make([]string, 0, 24)

			lines = append(lines, renderSectionHeader("Daemon", colorize)...)
			lines = append(lines, renderStatusLine("Running", boolKind(status.Running), fmt.Sprintf("pid %d", status.PID), colorize))
			lines = append(lines, renderStatusLine("Queue database", statusInfo, status.QueueDBPath, colorize))
			lines = append(lines, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Workflow", colorize)...)
			lines = append(lines, renderStatusLine("Dispatching", boolKind(status.Workflow.Running), "", colorize))
			acceptKind := statusOK
			acceptMsg := "accepting jobs"
			if !status.Workflow.Accepting {
				acceptKind = statusWarn
				acceptMsg = "submissions paused"
			}
			lines = append(lines, renderStatusLine("Intake", acceptKind, acceptMsg, colorize))
			lines = append(lines, renderStatusLine("Active jobs", statusInfo, fmt.Sprintf("%d", status.Workflow.ActiveJobs), colorize))
			lines = append(lines, renderStatusLine("Queue", statusInfo, formatQueueCounts(status.Workflow.QueueStats), colorize))

			p := status.Workflow.Pipeline
			if p.TotalJobs > 0 {
				lines = append(lines, renderStatusLine("Pipeline", statusInfo,
					fmt.Sprintf("%d jobs, %.0f%% success, avg %.0fs", p.TotalJobs, p.SuccessRate*100, p.AverageSeconds), colorize))
			}

			if len(status.Workflow.StageHealth) > 0 {
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Components", colorize)...)
				for _, check := range status.Workflow.StageHealth {
					lines = append(lines, renderStatusLine(check.Name, boolKind(check.Ready), check.Detail, colorize))
				}
			}

			if len(status.TTSUsage) > 0 {
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("TTS", colorize)...)
				lines = append(lines, renderStatusLine("Active sessions", statusInfo, fmt.Sprintf("%d", status.TTSSessions), colorize))
				for _, usage := range status.TTSUsage {
					lines = append(lines, renderStatusLine(usage.Service, statusInfo,
						fmt.Sprintf("%d requests, %d chars, $%.4f", usage.Requests, usage.Characters, usage.Cost), colorize))
				}
			}

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a summary")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check daemon component readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var health api.HealthResponse
			err = client.Health(cmd.Context(), &health)
			if err != nil {
				// The health endpoint serves its payload with a 503 when
				// any component is down, so keep rendering on APIError.
				var apiErr *daemonctl.APIError
				if !errors.As(err, &apiErr) {
					return err
				}
			}
			if jsonOutput {
				return writeJSON(cmd, health)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, check := range health.Checks {
				fmt.Fprintln(out, renderStatusLine(check.Name, boolKind(check.Ready), check.Detail, colorize))
			}
			if health.Ready {
				fmt.Fprintln(out, "All components ready")
				return nil
			}
			return fmt.Errorf("one or more components are not ready")
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a summary")
	return cmd
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func formatQueueCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "empty"
	}
	parts := make([]string, 0, len(counts))
	for _, status := range statusDisplayOrder {
		if count, ok := counts[status]; ok && count > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", count, status))
		}
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, ", ")
}
