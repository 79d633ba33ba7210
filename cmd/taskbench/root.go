package main

import (
	"github.com/spf13/cobra"

	"taskbench/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	noConfirm  bool
}

// configOptions turns the persistent flags into loader options. Flags only
// override configuration when they were set explicitly.
func (o *rootOptions) configOptions(cmd *cobra.Command) []config.Option {
	var opts []config.Option
	if o.configPath != "" {
		opts = append(opts, config.WithConfigPath(o.configPath))
	}
	overrides := map[string]any{}
	if cmd.Flags().Changed("log-level") {
		overrides["logging.level"] = o.logLevel
	}
	if cmd.Flags().Changed("no-confirm") {
		overrides["confirm.enabled"] = !o.noConfirm
	}
	if len(overrides) > 0 {
		opts = append(opts, config.WithOverrides(overrides))
	}
	return opts
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "taskbench",
		Short: "Run and serve benchmark task environments",
		Long: `taskbench prepares task environments, scores agent runs against them and
cleans up afterwards. Procedures are executed by evaluator plugins, either
built in or written in Starlark under the configured plugin roots.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to taskbench.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.noConfirm, "no-confirm", false, "run guarded actions without asking")

	root.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newSubmitCommand(opts),
		newPluginsCommand(opts),
	)
	return root
}
