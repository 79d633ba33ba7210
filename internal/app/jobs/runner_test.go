package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbench/evaluation/builtin"
	"taskbench/evaluation/evaluator"
	"taskbench/evaluation/plugins"
	"taskbench/internal/observability"
	"taskbench/internal/task"
	"taskbench/internal/taskstate"
)

func probePlugin() plugins.Plugin {
	return plugins.Plugin{Name: "probe", New: func(env plugins.Env) (*evaluator.Descriptor, error) {
		return evaluator.New("probe",
			evaluator.OnReset("noop", func(context.Context, evaluator.Args) error { return nil }),
			evaluator.OnReset("block", func(ctx context.Context, _ evaluator.Args) error {
				<-ctx.Done()
				return ctx.Err()
			}),
			evaluator.OnReset("fail", func(context.Context, evaluator.Args) error {
				return errors.New("device unreachable")
			}),
			evaluator.OnReset("panic", func(context.Context, evaluator.Args) error {
				panic("handler exploded")
			}),
			evaluator.OnReset("ask", func(ctx context.Context, _ evaluator.Args) error {
				_, _, err := env.Guard.Run(ctx, "proceed?", nil)
				return err
			}),
			evaluator.OnEval("pass", func(context.Context, evaluator.Args) error { return nil }),
			evaluator.OnEval("feedback", func(_ context.Context, args evaluator.Args) error {
				msg, err := args.String("msg")
				if err != nil {
					return err
				}
				return evaluator.Feedback("%s", msg)
			}, evaluator.Arg("msg")),
		)
	}}
}

type fixture struct {
	runner *Runner
	reg    *prometheus.Registry
	work   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := plugins.Discover(plugins.DiscoverOptions{
		Builtins: []plugins.Plugin{
			probePlugin(),
			{Name: builtin.FilesystemName, New: builtin.NewFilesystem},
		},
	})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	work := t.TempDir()
	r, err := NewRunner(Options{
		Machine:        taskstate.New(),
		Opener:         catalog,
		ConfirmEnabled: true,
		WorkDir:        work,
		Metrics:        observability.MustNewJobMetrics(reg),
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return &fixture{runner: r, reg: reg, work: work}
}

// metric returns the value of the series name whose labels include labels.
func (f *fixture) metric(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	series:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func resetTask(steps ...evaluator.Step) *task.Task {
	return &task.Task{ID: "t", ResetProcedure: steps}
}

func probe(action string) evaluator.Step {
	return evaluator.Step{Evaluator: "probe", Action: action}
}

func TestResetJobFinishes(t *testing.T) {
	f := newFixture(t)
	resp, err := f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: resetTask(probe("noop"))})
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, resp.Status)
	assert.Equal(t, ResultSuccess, resp.Content)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, taskstate.Finished, f.runner.State().State)
	assert.Equal(t, 0.0, f.metric(t, "taskbench_jobs_active", nil))
}

func TestEvalJobReturnsScoreAndFeedback(t *testing.T) {
	f := newFixture(t)
	tk := &task.Task{EvalProcedure: evaluator.Procedure{
		probe("pass"),
		{Evaluator: "probe", Action: "feedback", Params: map[string]any{"msg": "X"}},
	}}
	resp, err := f.runner.Submit(context.Background(), Request{Kind: KindEval, Task: tk})
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, resp.Status)
	assert.Equal(t, ResultSuccess, resp.Content)
	assert.Equal(t, evaluator.Result{Score: 0, Feedback: "X\n"}, resp.Message)
}

func TestFailuresAlwaysFinish(t *testing.T) {
	f := newFixture(t)
	cases := map[string]struct {
		step evaluator.Step
		want string
	}{
		"infrastructure error": {probe("fail"), "device unreachable"},
		"panic":                {probe("panic"), "handler exploded"},
		"unknown evaluator":    {evaluator.Step{Evaluator: "vscode", Action: "open"}, "unknown evaluator"},
		"unknown action":       {probe("reboot"), "unsupported action"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: resetTask(tc.step)})
			require.NoError(t, err)
			assert.Equal(t, StatusFinished, resp.Status)
			assert.Equal(t, ResultError, resp.Content)
			assert.Contains(t, resp.Message, tc.want)
		})
	}
}

func TestConfirmDeclinedKeepsFile(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.work, "keep.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	tk := resetTask(evaluator.Step{Evaluator: "filesystem", Action: "delete_file", Params: map[string]any{"path": "keep.txt"}})

	resp, err := f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: tk})
	require.NoError(t, err)
	require.Equal(t, StatusWaitForInput, resp.Status)
	assert.Equal(t, "Delete keep.txt?", resp.Message)

	resp, err = f.runner.Confirm(context.Background(), "n")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, resp.Status)
	assert.Equal(t, ResultSuccess, resp.Content)
	assert.FileExists(t, target)
}

func TestConfirmAcceptedRunsAction(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.work, "junk.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	tk := resetTask(
		evaluator.Step{Evaluator: "filesystem", Action: "delete_file", Params: map[string]any{"path": "junk.txt"}},
		probe("ask"),
	)

	resp, err := f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: tk})
	require.NoError(t, err)
	require.Equal(t, StatusWaitForInput, resp.Status)

	resp, err = f.runner.Confirm(context.Background(), "yes")
	require.NoError(t, err)
	require.Equal(t, StatusWaitForInput, resp.Status)
	assert.Equal(t, "proceed?", resp.Message)
	assert.NoFileExists(t, target)

	resp, err = f.runner.Confirm(context.Background(), "y")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, resp.Status)
	assert.Equal(t, 2.0, f.metric(t, "taskbench_confirmations_total", map[string]string{"answer": "yes"}))
}

func TestConfirmWithoutPendingInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.Confirm(context.Background(), "y")
	require.ErrorIs(t, err, ErrNoPendingInput)

	_, err = f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: resetTask(probe("noop"))})
	require.NoError(t, err)
	_, err = f.runner.Confirm(context.Background(), "y")
	require.ErrorIs(t, err, ErrNoPendingInput)
}

func TestSubmitPreemptsJobWaitingForInput(t *testing.T) {
	f := newFixture(t)
	resp, err := f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: resetTask(probe("ask"))})
	require.NoError(t, err)
	require.Equal(t, StatusWaitForInput, resp.Status)
	first := resp.JobID

	resp, err = f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: resetTask(probe("noop"))})
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, resp.Status)
	assert.Equal(t, ResultSuccess, resp.Content)
	assert.NotEqual(t, first, resp.JobID)
	assert.Equal(t, 1.0, f.metric(t, "taskbench_job_preemptions_total", nil))
}

func TestSubmitPreemptsRunningJob(t *testing.T) {
	f := newFixture(t)
	blocked := make(chan Response, 1)
	go func() {
		resp, err := f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: resetTask(probe("block"))})
		assert.NoError(t, err)
		blocked <- resp
	}()
	require.Eventually(t, func() bool {
		return f.runner.State().State == taskstate.InProgress
	}, time.Second, 5*time.Millisecond)
	running := f.runner.State().Seq

	resp, err := f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: resetTask(probe("noop"))})
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, resp.Status)
	assert.Equal(t, ResultSuccess, resp.Content)

	select {
	case first := <-blocked:
		assert.Equal(t, StatusTerminated, first.Status)
	case <-time.After(time.Second):
		t.Fatal("preempted submitter was not released")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var states []taskstate.State
	for seq := running; len(states) < 4; {
		info, err := f.runner.Machine().Next(ctx, seq)
		require.NoError(t, err)
		states = append(states, info.State)
		seq = info.Seq
	}
	assert.Equal(t, []taskstate.State{
		taskstate.Terminate, taskstate.Finished, taskstate.InProgress, taskstate.Finished,
	}, states)
}

func TestTaskTimeoutFailsJob(t *testing.T) {
	f := newFixture(t)
	tk := resetTask(probe("block"))
	tk.Timeout = task.Duration(30 * time.Millisecond)
	resp, err := f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: tk})
	require.NoError(t, err)
	assert.Equal(t, ResultError, resp.Content)
	assert.Contains(t, resp.Message, "deadline exceeded")
}

func TestCallerContextCancelLeavesJobRunning(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.runner.Submit(ctx, Request{Kind: KindReset, Task: resetTask(probe("block"))})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, taskstate.InProgress, f.runner.State().State)
}

func TestSubmitValidatesTask(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.Submit(context.Background(), Request{Kind: KindReset})
	require.Error(t, err)
	_, err = f.runner.Submit(context.Background(), Request{Kind: KindReset, Task: resetTask(evaluator.Step{Action: "x"})})
	require.Error(t, err)
	assert.Equal(t, taskstate.Finished, f.runner.State().State)
}
