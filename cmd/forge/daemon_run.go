package main

import (
	"github.com/spf13/cobra"

	"forge/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Daemon process commands (internal)",
		Hidden: true,
	}

	var (
		diagnostic  bool
		logLevel    string
		development bool
	)
	runCmd := &cobra.Command{
		Use:          "run",
		Short:        "Run the forge daemon in the foreground",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr := ctx.apiAddress(cfg); addr != "" {
				cfg.API.Bind = addr
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				Diagnostic:  diagnostic,
			})
		},
	}
	runCmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	runCmd.Flags().BoolVar(&development, "dev", false, "Human-friendly console logging")

	daemonCmd.AddCommand(runCmd)
	return daemonCmd
}
