package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "rollcall",
		Short:         "Resolve transcript speaker names to roster identities",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newConfirmCommand(ctx))
	rootCmd.AddCommand(newForgetCommand(ctx))
	rootCmd.AddCommand(newMappingsCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newBackupCommand(ctx))
	rootCmd.AddCommand(newMCPCommand(ctx))

	return rootCmd
}
