package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taskbench/evaluation/plugins"
	"taskbench/internal/confirm"
	"taskbench/internal/delivery/jobs/bootstrap"
	jsonx "taskbench/internal/shared/json"
)

func newPluginsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the evaluator plugin catalog",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins and rejected sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := bootstrap.BuildFoundation(root.configOptions(cmd)...)
			if err != nil {
				return err
			}
			defer f.Close(cmd.Context())
			cat := f.Plugins.Current()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := jsonx.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"plugins": cat.Entries(), "rejected": cat.Rejected()})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tSOURCE")
			for _, e := range cat.Entries() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Kind, e.Source)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, r := range cat.Rejected() {
				fmt.Fprintf(out, "%s %s: %s\n", yellow("rejected"), r.Source, r.Reason)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	var limit int
	check := &cobra.Command{
		Use:   "check",
		Short: "Instantiate every plugin and report load errors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := bootstrap.BuildFoundation(root.configOptions(cmd)...)
			if err != nil {
				return err
			}
			defer f.Close(cmd.Context())
			// Instantiation never reaches a guarded action, so the guard is off.
			guard, err := confirm.NewGuard(false, nil)
			if err != nil {
				return err
			}
			results := plugins.CheckAll(cmd.Context(), f.Plugins.Current(), f.PluginEnv(guard), limit)
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(out, "%s %s (%s): %v\n", red("FAIL"), r.Name, r.Source, r.Err)
					continue
				}
				fmt.Fprintf(out, "%s %s %s\n", green("ok  "), r.Name, gray(actionSummary(r)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d plugins failed to load", failed, len(results))
			}
			return nil
		},
	}
	check.Flags().IntVar(&limit, "parallel", 4, "plugins loaded concurrently")

	cmd.AddCommand(list, check)
	return cmd
}

func actionSummary(r plugins.CheckResult) string {
	var parts []string
	if len(r.ResetActions) > 0 {
		parts = append(parts, "reset: "+strings.Join(r.ResetActions, ", "))
	}
	if len(r.EvalActions) > 0 {
		parts = append(parts, "eval: "+strings.Join(r.EvalActions, ", "))
	}
	return strings.Join(parts, "; ")
}
