package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"taskbench/evaluation/evaluator"
	"taskbench/evaluation/plugins"
)

// TrajectoryName is the plugin name of the trajectory evaluator.
const TrajectoryName = "trajectory"

// trajectoryKey is the shared evaluation context key holding the agent's actions.
const trajectoryKey = "trajectory"

// NewTrajectory builds the evaluator that asserts on the agent's recorded
// actions. It reads the "trajectory" value of the evaluation context.
func NewTrajectory(plugins.Env) (*evaluator.Descriptor, error) {
	return evaluator.New(TrajectoryName,
		evaluator.OnEval("action_contains", actionContains, evaluator.Arg(trajectoryKey), evaluator.Arg("text")),
		evaluator.OnEval("max_steps", maxSteps, evaluator.Arg(trajectoryKey), evaluator.Arg("limit")),
	)
}

func trajectorySteps(args evaluator.Args) ([]any, error) {
	raw, _ := args.Value(trajectoryKey)
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case []map[string]any:
		steps := make([]any, len(t))
		for i, s := range t {
			steps[i] = s
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("%w: trajectory must be a list, got %T", evaluator.ErrInvalidParam, raw)
	}
}

// actionText renders one trajectory step for matching: the "action" field of
// an object step, or the step itself.
func actionText(step any) string {
	switch s := step.(type) {
	case string:
		return s
	case map[string]any:
		if a, ok := s["action"]; ok {
			if str, ok := a.(string); ok {
				return str
			}
			step = a
		}
	}
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Sprint(step)
	}
	return string(data)
}

func actionContains(_ context.Context, args evaluator.Args) error {
	text, err := args.String("text")
	if err != nil {
		return err
	}
	steps, err := trajectorySteps(args)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if strings.Contains(actionText(step), text) {
			return nil
		}
	}
	return evaluator.Feedback("no action among %d steps contains %q", len(steps), text)
}

func maxSteps(_ context.Context, args evaluator.Args) error {
	limit, err := args.Int("limit")
	if err != nil {
		return err
	}
	steps, err := trajectorySteps(args)
	if err != nil {
		return err
	}
	if len(steps) > limit {
		return evaluator.Feedback("took %d steps, limit is %d", len(steps), limit)
	}
	return nil
}
