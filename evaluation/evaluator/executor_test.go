package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "taskbench/internal/shared/errors"
)

func newChecker(t *testing.T, calls *[]string) *Descriptor {
	t.Helper()
	d, err := New("checker",
		OnEval("pass", func(ctx context.Context, args Args) error {
			*calls = append(*calls, "pass")
			return nil
		}),
		OnEval("fail", func(ctx context.Context, args Args) error {
			*calls = append(*calls, "fail")
			msg, err := args.String("msg")
			if err != nil {
				return err
			}
			return Feedback("%s", msg)
		}, Arg("msg")),
		OnEval("boom", func(ctx context.Context, args Args) error {
			*calls = append(*calls, "boom")
			return errors.New("device unreachable")
		}),
		OnEval("steps", func(ctx context.Context, args Args) error {
			traj, ok := args.Value("trajectory")
			if !ok {
				return Feedback("no trajectory")
			}
			if n := len(traj.([]any)); n > 2 {
				return Feedback("too many steps: %d", n)
			}
			return nil
		}, Arg("trajectory")),
		OnReset("touch", func(ctx context.Context, args Args) error {
			path, err := args.String("path")
			if err != nil {
				return err
			}
			*calls = append(*calls, "touch:"+path)
			return nil
		}, Arg("path")),
	)
	require.NoError(t, err)
	return d
}

func TestEvaluateEmptyProcedure(t *testing.T) {
	var calls []string
	res, err := Evaluate(context.Background(), newChecker(t, &calls), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, "", res.Feedback)
	assert.True(t, res.Passed())
}

func TestEvaluateAllPass(t *testing.T) {
	var calls []string
	proc := Procedure{{Action: "pass"}, {Action: "pass"}}
	res, err := Evaluate(context.Background(), newChecker(t, &calls), proc, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Score: 1.0}, res)
	assert.Equal(t, []string{"pass", "pass"}, calls)
}

func TestEvaluateFeedbackDoesNotShortCircuit(t *testing.T) {
	var calls []string
	proc := Procedure{
		{Action: "fail", Params: map[string]any{"msg": "X"}},
		{Action: "pass"},
		{Action: "fail", Params: map[string]any{"msg": "Y"}},
	}
	res, err := Evaluate(context.Background(), newChecker(t, &calls), proc, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, "X\nY\n", res.Feedback)
	assert.Equal(t, []string{"fail", "pass", "fail"}, calls)
}

func TestEvaluatePassAndFeedback(t *testing.T) {
	var calls []string
	proc := Procedure{
		{Action: "pass"},
		{Action: "fail", Params: map[string]any{"msg": "X"}},
	}
	res, err := Evaluate(context.Background(), newChecker(t, &calls), proc, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Score: 0.0, Feedback: "X\n"}, res)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	var calls []string
	d := newChecker(t, &calls)
	proc := Procedure{
		{Action: "pass"},
		{Action: "fail", Params: map[string]any{"msg": "nope"}},
	}
	first, err := Evaluate(context.Background(), d, proc, nil)
	require.NoError(t, err)
	second, err := Evaluate(context.Background(), d, proc, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluateInfrastructureErrorAborts(t *testing.T) {
	var calls []string
	proc := Procedure{{Action: "boom"}, {Action: "pass"}}
	_, err := Evaluate(context.Background(), newChecker(t, &calls), proc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unreachable")
	assert.Equal(t, errs.KindInfrastructure, errs.Classify(err))
	assert.Equal(t, []string{"boom"}, calls)
}

func TestEvaluateUnsupportedAction(t *testing.T) {
	var calls []string
	_, err := Evaluate(context.Background(), newChecker(t, &calls), Procedure{{Action: "missing"}}, nil)
	require.ErrorIs(t, err, ErrUnsupportedAction)
	assert.True(t, errs.IsConfig(err))
}

func TestEvaluateMissingRequiredParamIsFatal(t *testing.T) {
	var calls []string
	_, err := Evaluate(context.Background(), newChecker(t, &calls), Procedure{{Action: "fail"}}, nil)
	require.ErrorIs(t, err, ErrMissingParam)
	assert.Empty(t, calls)
}

func TestEvaluateMergesSharedContext(t *testing.T) {
	var calls []string
	d := newChecker(t, &calls)
	shared := map[string]any{"trajectory": []any{"click", "type", "save"}}

	res, err := Evaluate(context.Background(), d, Procedure{{Action: "steps"}}, shared)
	require.NoError(t, err)
	assert.Equal(t, "too many steps: 3\n", res.Feedback)

	override := Procedure{{Action: "steps", Params: map[string]any{"trajectory": []any{"click"}}}}
	res, err = Evaluate(context.Background(), d, override, shared)
	require.NoError(t, err)
	assert.True(t, res.Passed())
}

func TestResetRunsDeclaredParamsOnly(t *testing.T) {
	var seen Args
	d, err := New("fs", OnReset("touch", func(ctx context.Context, args Args) error {
		seen = args
		return nil
	}, Arg("path"), OptionalArg("mode")))
	require.NoError(t, err)

	err = Reset(context.Background(), d, Procedure{{
		Action: "touch",
		Params: map[string]any{"path": "/tmp/a", "extra": 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"path"}, seen.Names())
}

func TestResetUnsupportedAndErrors(t *testing.T) {
	var calls []string
	d := newChecker(t, &calls)

	err := Reset(context.Background(), d, Procedure{{Action: "pass"}})
	require.ErrorIs(t, err, ErrUnsupportedAction)

	err = Reset(context.Background(), d, Procedure{{Action: "touch"}})
	require.ErrorIs(t, err, ErrMissingParam)

	err = Reset(context.Background(), d, Procedure{{Action: "touch", Params: map[string]any{"path": 7}}})
	require.ErrorIs(t, err, ErrInvalidParam)
}

func TestResetStopsOnCancelledContext(t *testing.T) {
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Reset(ctx, newChecker(t, &calls), Procedure{{Action: "touch", Params: map[string]any{"path": "x"}}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}
