package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	output     string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "stems",
		Short:         "Fetch audio and split it into stems",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (tool names and limits)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "", "Output root directory (overrides storage.output_root)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand(opts, "split", "Fetch a source and split it into stems with tempo and key", "stem"))
	rootCmd.AddCommand(newRunCommand(opts, "fetch", "Fetch a source as a single mp3", "youtube"))

	return rootCmd
}
