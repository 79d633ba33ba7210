package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskbench/evaluation/comb"
	"taskbench/evaluation/evaluator"
	"taskbench/internal/confirm"
	"taskbench/internal/delivery/jobs/bootstrap"
	"taskbench/internal/task"
)

type runOptions struct {
	taskPath       string
	trajectoryPath string
	skipReset      bool
	skipEval       bool
	skipCleanup    bool
	asJSON         bool
	strict         bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reset, evaluate and clean up a task locally",
		Long: `run executes a task's procedures in this process. Confirmations are asked on
the terminal, or read as plain lines from stdin when it is not a terminal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTask(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.taskPath, "task", "t", "", "task descriptor (YAML or JSON)")
	cmd.Flags().StringVar(&opts.trajectoryPath, "trajectory", "", "agent trajectory (JSON list) offered to eval handlers")
	cmd.Flags().BoolVar(&opts.skipReset, "skip-reset", false, "skip the reset procedure")
	cmd.Flags().BoolVar(&opts.skipEval, "skip-eval", false, "skip the eval procedure")
	cmd.Flags().BoolVar(&opts.skipCleanup, "skip-cleanup", false, "skip the cleanup procedure")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit with status 2 unless every assertion passed")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func runTask(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	t, err := task.Load(opts.taskPath)
	if err != nil {
		return err
	}
	evalCtx := map[string]any{}
	if opts.trajectoryPath != "" {
		traj, err := task.LoadTrajectory(opts.trajectoryPath)
		if err != nil {
			return err
		}
		evalCtx["trajectory"] = traj
	}

	f, err := bootstrap.BuildFoundation(root.configOptions(cmd)...)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close(context.Background()) }()

	asker := confirm.NewTerminalAsker()
	defer asker.Close()
	guard, err := confirm.NewGuard(f.Config.Confirm.Enabled, asker,
		confirm.WithRecorder(f.Metrics))
	if err != nil {
		return err
	}
	c := comb.New(f.Plugins.Current(), f.PluginEnv(guard), comb.WithTracer(f.Tracing.Tracer()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if timeout := t.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	if !opts.skipReset && len(t.ResetProcedure) > 0 {
		fmt.Fprintln(errOut, stageText("reset"))
		if err := c.Reset(ctx, t.ResetProcedure); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	var res evaluator.Result
	evaluated := false
	if !opts.skipEval {
		fmt.Fprintln(errOut, stageText("eval"))
		res, err = c.Evaluate(ctx, t.EvalProcedure, evalCtx)
		if err != nil {
			return fmt.Errorf("eval: %w", err)
		}
		f.Metrics.ObserveScore(res.Score)
		evaluated = true
	}

	if !opts.skipCleanup && len(t.CleanupProcedure) > 0 {
		fmt.Fprintln(errOut, stageText("cleanup"))
		if err := c.Reset(ctx, t.CleanupProcedure); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}

	if !evaluated {
		return nil
	}
	if err := printResult(out, res, opts.asJSON); err != nil {
		return err
	}
	if opts.strict && !res.Passed() {
		return &exitCodeError{code: 2}
	}
	return nil
}
