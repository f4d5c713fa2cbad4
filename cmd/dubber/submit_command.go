package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dubber/internal/api"
	"dubber/internal/config"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var title string
	var sourceLanguage string
	var targetLanguage string
	var priority int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "submit <video-path>",
		Short: "Submit a video for dubbing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve input path: %w", err)
			}
			if strings.TrimSpace(targetLanguage) == "" {
				return errors.New("target language is required (--target)")
			}
			if strings.TrimSpace(title) == "" {
				base := filepath.Base(input)
				title = strings.TrimSuffix(base, filepath.Ext(base))
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}

			req := api.SubmitRequest{
				UserID:         ctx.username(),
				Title:          strings.TrimSpace(title),
				InputVideo:     input,
				SourceLanguage: strings.TrimSpace(sourceLanguage),
				TargetLanguage: strings.TrimSpace(targetLanguage),
				Priority:       priority,
			}

			var resp api.JobResponse
			if err := client.Submit(cmd.Context(), req, &resp); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, resp.Job)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted job %s (%s)\n", resp.Job.ID, resp.Job.Title)
			fmt.Fprintf(out, "Target language: %s  Priority: %d  Status: %s\n", resp.Job.TargetLanguage, resp.Job.Priority, resp.Job.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Job title (defaults to the video file name)")
	cmd.Flags().StringVar(&sourceLanguage, "source", "", "Source language code (detected when empty)")
	cmd.Flags().StringVar(&targetLanguage, "target", "", "Target language code")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Scheduling priority (-10 to 10)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a summary")
	return cmd
}
