package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dubber/internal/api"
)

func newTTSCommand(ctx *commandContext) *cobra.Command {
	ttsCmd := &cobra.Command{
		Use:   "tts",
		Short: "Inspect TTS service usage and quotas",
	}

	ttsCmd.AddCommand(newTTSUsageCommand(ctx))
	ttsCmd.AddCommand(newTTSQuotaCommand(ctx))
	ttsCmd.AddCommand(newTTSABResultsCommand(ctx))

	return ttsCmd
}

func newTTSUsageCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show per-service synthesis usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var usage []api.TTSUsage
			if err := client.TTSUsage(cmd.Context(), &usage); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, usage)
			}
			if len(usage) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No TTS usage recorded")
				return nil
			}

			rows := make([][]string, 0, len(usage))
			for _, entry := range usage {
				rows = append(rows, []string{
					entry.Service,
					fmt.Sprintf("%d", entry.Requests),
					fmt.Sprintf("%d", entry.Failures),
					fmt.Sprintf("%d", entry.Fallbacks),
					fmt.Sprintf("%d", entry.Characters),
					fmt.Sprintf("$%.4f", entry.Cost),
					fmt.Sprintf("%.0f%%", entry.SuccessRate*100),
				})
			}
			table := renderTable(
				[]string{"Service", "Requests", "Failures", "Fallbacks", "Characters", "Cost", "Success"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newTTSABResultsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ab-results",
		Short: "Compare the realized A/B traffic split with the configured weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var results api.ABTestResults
			if err := client.TTSABResults(cmd.Context(), &results); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, results)
			}

			out := cmd.OutOrStdout()
			if !results.Enabled {
				fmt.Fprintln(out, "A/B testing is disabled")
			}
			if results.TotalRequests == 0 {
				fmt.Fprintln(out, "No synthesis requests recorded this month")
				return nil
			}

			rows := make([][]string, 0, 2)
			for _, arm := range []api.ABTestArm{results.Google, results.Coqui} {
				rows = append(rows, []string{
					arm.Service,
					fmt.Sprintf("%d%%", arm.ConfiguredWeight),
					fmt.Sprintf("%.1f%%", arm.RealizedPercent),
					fmt.Sprintf("%d", arm.Requests),
					fmt.Sprintf("%.0f%%", arm.SuccessRate*100),
					fmt.Sprintf("$%.4f", arm.Cost),
				})
			}
			table := renderTable(
				[]string{"Service", "Configured", "Realized", "Requests", "Success", "Cost"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			)
			fmt.Fprintln(out, table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newTTSQuotaCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "quota <service>",
		Short: "Show the monthly quota for a TTS service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var quota api.TTSQuota
			if err := client.TTSQuota(cmd.Context(), strings.TrimSpace(args[0]), &quota); err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, quota)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:   %s\n", quota.Service)
			fmt.Fprintf(out, "Used:      %d\n", quota.Used)
			fmt.Fprintf(out, "Limit:     %d\n", quota.Limit)
			fmt.Fprintf(out, "Remaining: %d\n", quota.Remaining)
			fmt.Fprintf(out, "Resets:    %s\n", quota.ResetDate)
			if quota.Exhausted {
				fmt.Fprintln(out, "Quota exhausted; requests fall back to other services")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a summary")
	return cmd
}
