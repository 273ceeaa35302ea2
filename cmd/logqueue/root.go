package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag, dirFlag, queueFlag string

	ctx := newCommandContext(&configFlag, &dirFlag, &queueFlag)

	rootCmd := &cobra.Command{
		Use:           "logqueue",
		Short:         "Inspect and drain durable log queues",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Queue directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&queueFlag, "queue", "q", "", "Queue name (overrides config)")

	rootCmd.AddCommand(newEnqueueCommand(ctx))
	rootCmd.AddCommand(newPeekCommand(ctx))
	rootCmd.AddCommand(newAckCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newDrainCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))

	return rootCmd
}
