package evaluator

import (
	"context"
	"fmt"
	"strings"

	"taskbench/internal/shared/logging"
)

var procLogger = logging.NewComponentLogger("Procedure")

// Reset runs every step of proc against d's reset handlers in order. The first
// error aborts the procedure.
func Reset(ctx context.Context, d *Descriptor, proc Procedure) error {
	for i, step := range proc {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, ok := d.Handler(KindReset, step.Action)
		if !ok {
			return fmt.Errorf("%w: reset %s.%s", ErrUnsupportedAction, d.name, step.Action)
		}
		args, err := h.bind(d.name, step.Params, nil)
		if err != nil {
			return err
		}
		procLogger.Debug("reset step %d: %s.%s", i, d.name, step.Action)
		if err := h.Fn(ctx, args); err != nil {
			return fmt.Errorf("reset %s.%s (step %d): %w", d.name, step.Action, i, err)
		}
	}
	return nil
}

// Evaluate runs every step of proc against d's eval handlers. Shared values
// (for example the agent trajectory) are offered to each handler alongside the
// step's own params.
//
// A *FeedbackError zeroes the score and appends its message to the feedback;
// evaluation then continues with the next step. Any other error aborts.
func Evaluate(ctx context.Context, d *Descriptor, proc Procedure, shared map[string]any) (Result, error) {
	score := 1.0
	var feedback strings.Builder
	for i, step := range proc {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		h, ok := d.Handler(KindEval, step.Action)
		if !ok {
			return Result{}, fmt.Errorf("%w: eval %s.%s", ErrUnsupportedAction, d.name, step.Action)
		}
		args, err := h.bind(d.name, step.Params, shared)
		if err != nil {
			return Result{}, err
		}
		err = h.Fn(ctx, args)
		if err == nil {
			procLogger.Debug("eval step %d: %s.%s passed", i, d.name, step.Action)
			continue
		}
		fe, ok := AsFeedback(err)
		if !ok {
			return Result{}, fmt.Errorf("eval %s.%s (step %d): %w", d.name, step.Action, i, err)
		}
		procLogger.Debug("eval step %d: %s.%s failed: %s", i, d.name, step.Action, fe.Message)
		score = 0.0
		feedback.WriteString(fe.Message)
		feedback.WriteString("\n")
	}
	return Result{Score: score, Feedback: feedback.String()}, nil
}
