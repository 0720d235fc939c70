package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"captionflow/config"
	"captionflow/internal/deps"
)

func newDepsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check the external binaries used for audio acquisition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := deps.Diagnose(config.Conf)
			fmt.Fprintln(cmd.OutOrStdout(), deps.Report(checks))
			if missing := deps.Missing(checks); len(missing) > 0 {
				return fmt.Errorf("%d required dependencies missing", len(missing))
			}
			return nil
		},
	}
}
