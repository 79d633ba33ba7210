package plugins

import (
	"context"

	"golang.org/x/sync/errgroup"

	"taskbench/evaluation/evaluator"
)

// CheckResult reports whether one plugin could be instantiated.
type CheckResult struct {
	Entry
	ResetActions []string `json:"reset_actions,omitempty"`
	EvalActions  []string `json:"eval_actions,omitempty"`
	Err          error    `json:"-"`
}

// CheckAll instantiates every plugin in c, at most limit at a time, and
// reports the outcome per plugin in name order.
func CheckAll(ctx context.Context, c *Catalog, env Env, limit int) []CheckResult {
	entries := c.Entries()
	results := make([]CheckResult, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, e := range entries {
		g.Go(func() error {
			results[i].Entry = e
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			d, err := c.Open(e.Name, env)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].ResetActions = d.Actions(evaluator.KindReset)
			results[i].EvalActions = d.Actions(evaluator.KindEval)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
