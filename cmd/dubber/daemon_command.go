package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dubber/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the dubber daemon",
	}

	daemonCmd.AddCommand(newDaemonRunCommand(ctx))
	daemonCmd.AddCommand(newDaemonPingCommand(ctx))

	return daemonCmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Use development logging output")
	return cmd
}

func newDaemonPingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check whether the daemon answers its API",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if !client.Ping(cmd.Context()) {
				return fmt.Errorf("daemon is not responding")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon is running")
			return nil
		},
	}
}
