// Package evaluator implements the declarative procedure executor: evaluator
// descriptors with their reset/eval handler tables, and the Reset/Evaluate
// loops that run a procedure against one descriptor.
package evaluator

// Step is one declarative instruction of a procedure.
type Step struct {
	Evaluator string         `json:"evaluator" yaml:"evaluator"`
	Action    string         `json:"action" yaml:"action"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Procedure is an ordered list of steps. Order is significant.
type Procedure []Step

// Evaluators returns the distinct evaluator names referenced by p in order of
// first appearance.
func (p Procedure) Evaluators() []string {
	seen := make(map[string]struct{}, len(p))
	names := make([]string, 0, len(p))
	for _, step := range p {
		if _, ok := seen[step.Evaluator]; ok {
			continue
		}
		seen[step.Evaluator] = struct{}{}
		names = append(names, step.Evaluator)
	}
	return names
}

// Select returns the steps of p that target the named evaluator, preserving order.
func (p Procedure) Select(evaluator string) Procedure {
	var out Procedure
	for _, step := range p {
		if step.Evaluator == evaluator {
			out = append(out, step)
		}
	}
	return out
}

// Result is the outcome of evaluating a procedure.
type Result struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Passed reports whether every assertion held.
func (r Result) Passed() bool {
	return r.Score == 1.0
}
