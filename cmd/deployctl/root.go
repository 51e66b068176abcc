package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newRootCommand(environ []string) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "deployctl",
		Short: "Deploy static sites from git repositories",
		Long: `deployctl builds a frontend repository and uploads the output to S3 compatible storage.

Connection settings are read from the same STATICDEPLOY_* environment variables as the worker.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")

	root.AddCommand(newRunCommand(environ))
	root.AddCommand(newEnqueueCommand(environ))
	root.AddCommand(newStatusCommand(environ))
	return root
}
