package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"captionflow/internal/appdirs"
	"captionflow/log"
)

func newVersionCommand() *cobra.Command {
	var diagnose bool
	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfig": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\ncommit: %s\ndate: %s\n", version, commit, date)
			if !diagnose {
				return nil
			}

			fmt.Fprintf(out, "runtime: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			dirs, err := appdirs.Resolve()
			if err != nil {
				fmt.Fprintf(out, "app_dirs: <error: %v>\n", err)
				return nil
			}
			fmt.Fprintf(out, "layout: %s\nconfig_file: %s\nlog_dir: %s\noutput_dir: %s\ncache_dir: %s\n",
				dirs.Layout, dirs.ConfigFile, dirs.LogDir, dirs.OutputDir, dirs.CacheDir)
			if logFile, err := log.ResolveLogFilePath(); err == nil {
				fmt.Fprintf(out, "log_file: %s\n", logFile)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&diagnose, "diagnose", false, "Also print runtime and directory diagnostics")
	return cmd
}
