package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	projectDir string
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "piotask",
		Short: "Run PlatformIO project tasks",
		Long: `piotask discovers the tasks of a PlatformIO project and runs them.

Serial monitors started by piotask are closed while an upload or test
needs the port and reopened once it succeeds.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.projectDir, "project", "p", ".", "PlatformIO project directory")
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/piotask/config.toml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newTasksCmd(opts),
		newRunCmd(opts),
		newExecCmd(opts),
		newPortCmd(opts),
		newPortsCmd(opts),
		newServeCmd(opts),
	)
	return root
}
