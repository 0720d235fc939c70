package main

import (
	"github.com/spf13/cobra"

	"captionflow/config"
	"captionflow/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "captionflow",
		Short:         "Generate translated subtitles from a video link",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			return loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newDepsCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// loadConfig reads config.toml and keeps the console quiet so command output
// stays readable.
func loadConfig() error {
	log.InitLoggerWith(log.Options{ConsoleLevel: "warn"})
	if _, err := config.LoadOrCreateConfig(); err != nil {
		return err
	}
	if config.Conf.App.LogLevel != "" {
		log.InitLoggerWith(log.Options{Level: config.Conf.App.LogLevel, ConsoleLevel: "warn"})
	}
	return config.CheckConfig()
}
