package main

import (
	"github.com/spf13/cobra"

	"taskbench/internal/config"
	"taskbench/internal/delivery/jobs/bootstrap"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job protocol over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := root.configOptions(cmd)
			overrides := map[string]any{}
			if cmd.Flags().Changed("addr") {
				overrides["server.addr"] = addr
			}
			if cmd.Flags().Changed("watch") {
				overrides["plugins.watch"] = watch
			}
			opts = append(opts, config.WithOverrides(overrides))
			return bootstrap.RunServer(cmd.Context(), opts...)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload plugins when their sources change")
	return cmd
}
