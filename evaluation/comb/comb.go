// Package comb runs a task's procedures across the evaluators they name.
//
// A Comb resolves every evaluator referenced by a procedure before running any
// step, instantiates each plugin once, and keeps those instances for its own
// lifetime so that reset, eval and cleanup of one job share plugin state.
package comb

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taskbench/evaluation/evaluator"
	"taskbench/evaluation/plugins"
	"taskbench/internal/observability"
	errs "taskbench/internal/shared/errors"
	"taskbench/internal/shared/logging"
)

// ErrMissingEvaluator is returned for a step that does not name an evaluator.
var ErrMissingEvaluator = errs.NewConfigError(nil, "step names no evaluator")

// Opener instantiates evaluator plugins by name. *plugins.Catalog implements it.
type Opener interface {
	Open(name string, env plugins.Env) (*evaluator.Descriptor, error)
}

// Comb fans procedures out to evaluator instances.
type Comb struct {
	opener Opener
	env    plugins.Env
	tracer trace.Tracer
	logger logging.Logger

	mu        sync.Mutex
	instances map[string]*evaluator.Descriptor
}

// Option configures a Comb.
type Option func(*Comb)

// WithTracer sets the tracer used for per-evaluator spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Comb) { c.tracer = tracer }
}

// WithLogger sets the combinator logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Comb) { c.logger = logging.OrNop(logger) }
}

// New returns a combinator that opens plugins through opener with env.
func New(opener Opener, env plugins.Env, opts ...Option) *Comb {
	c := &Comb{
		opener:    opener,
		env:       env,
		logger:    logging.NewComponentLogger("Comb"),
		instances: make(map[string]*evaluator.Descriptor),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type group struct {
	name  string
	desc  *evaluator.Descriptor
	steps evaluator.Procedure
}

// resolve groups proc by evaluator in order of first appearance and opens
// every evaluator before returning.
func (c *Comb) resolve(proc evaluator.Procedure) ([]group, error) {
	for i, step := range proc {
		if strings.TrimSpace(step.Evaluator) == "" {
			return nil, fmt.Errorf("%w: step %d (%s)", ErrMissingEvaluator, i, step.Action)
		}
	}
	names := proc.Evaluators()
	groups := make([]group, 0, len(names))
	for _, name := range names {
		d, err := c.instance(name)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group{name: name, desc: d, steps: proc.Select(name)})
	}
	return groups, nil
}

func (c *Comb) instance(name string) (*evaluator.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.instances[name]; ok {
		return d, nil
	}
	d, err := c.opener.Open(name, c.env)
	if err != nil {
		return nil, err
	}
	c.instances[name] = d
	return d, nil
}

// Reset runs proc's reset steps, one evaluator group at a time. The first
// error aborts.
func (c *Comb) Reset(ctx context.Context, proc evaluator.Procedure) error {
	groups, err := c.resolve(proc)
	if err != nil {
		return err
	}
	for _, g := range groups {
		gctx, span := c.startGroup(ctx, evaluator.KindReset, g)
		err := evaluator.Reset(gctx, g.desc, g.steps)
		observability.EndSpan(span, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs proc's eval steps per evaluator group and combines the
// results: scores multiply, feedback concatenates in group order. evalCtx is
// offered to every handler.
func (c *Comb) Evaluate(ctx context.Context, proc evaluator.Procedure, evalCtx map[string]any) (evaluator.Result, error) {
	groups, err := c.resolve(proc)
	if err != nil {
		return evaluator.Result{}, err
	}
	total := evaluator.Result{Score: 1.0}
	var feedback strings.Builder
	for _, g := range groups {
		gctx, span := c.startGroup(ctx, evaluator.KindEval, g)
		res, err := evaluator.Evaluate(gctx, g.desc, g.steps, evalCtx)
		if err == nil {
			span.SetAttributes(attribute.Float64(observability.AttrScore, res.Score))
		}
		observability.EndSpan(span, err)
		if err != nil {
			return evaluator.Result{}, err
		}
		c.logger.Debug("evaluator %s scored %.2f", g.name, res.Score)
		total.Score *= res.Score
		feedback.WriteString(res.Feedback)
	}
	total.Feedback = feedback.String()
	return total, nil
}

func (c *Comb) startGroup(ctx context.Context, kind evaluator.Kind, g group) (context.Context, trace.Span) {
	return observability.StartSpan(ctx, c.tracer, observability.SpanCombGroup,
		attribute.String(observability.AttrEvaluator, g.name),
		attribute.String(observability.AttrJobKind, string(kind)),
		attribute.Int(observability.AttrSteps, len(g.steps)),
	)
}
