package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"taskbench/internal/app/jobs"
	"taskbench/internal/confirm"
	"taskbench/internal/delivery/jobs/client"
	"taskbench/internal/task"
)

type submitOptions struct {
	server         string
	taskPath       string
	trajectoryPath string
	kind           string
	asJSON         bool
	yes            bool
}

func newSubmitCommand(_ *rootOptions) *cobra.Command {
	opts := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task job to a running server and answer its prompts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return submitTask(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.server, "server", "s", "http://localhost:8080", "job server URL")
	cmd.Flags().StringVarP(&opts.taskPath, "task", "t", "", "task descriptor (YAML or JSON)")
	cmd.Flags().StringVar(&opts.trajectoryPath, "trajectory", "", "agent trajectory (JSON list), eval only")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", string(jobs.KindReset), "job kind: reset, eval or cleanup")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the eval result as JSON")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "answer yes to every prompt")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func submitTask(cmd *cobra.Command, opts *submitOptions) error {
	t, err := task.Load(opts.taskPath)
	if err != nil {
		return err
	}
	c, err := client.New(opts.server)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var resp jobs.Response
	switch jobs.Kind(opts.kind) {
	case jobs.KindReset:
		resp, err = c.Reset(ctx, t)
	case jobs.KindCleanup:
		resp, err = c.Cleanup(ctx, t)
	case jobs.KindEval:
		var traj []any
		if opts.trajectoryPath != "" {
			if traj, err = task.LoadTrajectory(opts.trajectoryPath); err != nil {
				return err
			}
		}
		resp, err = c.Eval(ctx, t, traj)
	default:
		return fmt.Errorf("unknown job kind %q", opts.kind)
	}
	if err != nil {
		return err
	}

	resp, err = c.Drive(ctx, resp, answerer(opts.yes))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case resp.Status == jobs.StatusTerminated:
		fmt.Fprintln(out, yellow("job terminated by a newer submission"))
		return &exitCodeError{code: 3}
	case resp.Content == jobs.ResultError:
		return fmt.Errorf("job %s failed: %v", resp.JobID, resp.Message)
	case jobs.Kind(opts.kind) == jobs.KindEval:
		res, err := client.EvalResult(resp)
		if err != nil {
			return err
		}
		return printResult(out, res, opts.asJSON)
	default:
		fmt.Fprintf(out, "%s job %s\n", green(string(jobs.Kind(opts.kind))+" finished:"), gray(resp.JobID))
		return nil
	}
}

// answerer asks with promptui on a terminal and falls back to plain line
// reads otherwise.
func answerer(yes bool) client.Answerer {
	if yes {
		return func(context.Context, string) (string, error) { return "y", nil }
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return confirm.NewTerminalAsker().Ask
	}
	return func(_ context.Context, prompt string) (string, error) {
		p := promptui.Prompt{Label: prompt, IsConfirm: true}
		_, err := p.Run()
		switch {
		case err == nil:
			return "y", nil
		case errors.Is(err, promptui.ErrAbort):
			return "n", nil
		default:
			return "", err
		}
	}
}
