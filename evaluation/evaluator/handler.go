package evaluator

import (
	"context"
	"fmt"
	"sort"

	errs "taskbench/internal/shared/errors"
)

var (
	// ErrUnsupportedAction is returned when a step names an action the evaluator does not handle.
	ErrUnsupportedAction = errs.NewConfigError(nil, "unsupported action")
	// ErrMissingParam is returned when a step omits a required handler parameter.
	ErrMissingParam = errs.NewConfigError(nil, "missing required parameter")
	// ErrInvalidParam is returned when a parameter has the wrong type.
	ErrInvalidParam = errs.NewConfigError(nil, "invalid parameter")
	// ErrDuplicateAction is returned when two handlers of one kind share an action name.
	ErrDuplicateAction = errs.NewConfigError(nil, "duplicate action")
)

// Kind distinguishes handlers that mutate the environment from handlers that
// assert on it.
type Kind string

const (
	KindReset Kind = "reset"
	KindEval  Kind = "eval"
)

// HandlerFunc performs one action. Eval handlers report a failed assertion by
// returning a *FeedbackError.
type HandlerFunc func(ctx context.Context, args Args) error

// Param declares a handler parameter.
type Param struct {
	Name     string
	Optional bool
}

// Arg declares a required parameter.
func Arg(name string) Param { return Param{Name: name} }

// OptionalArg declares an optional parameter.
func OptionalArg(name string) Param { return Param{Name: name, Optional: true} }

// Handler binds an action name to a function and its declared parameters.
type Handler struct {
	Kind   Kind
	Action string
	Params []Param
	// AcceptsAll passes every step parameter and context value through.
	// Required entries of Params are still enforced.
	AcceptsAll bool
	Fn         HandlerFunc
}

// OnReset declares a reset handler.
func OnReset(action string, fn HandlerFunc, params ...Param) Handler {
	return Handler{Kind: KindReset, Action: action, Params: params, Fn: fn}
}

// OnEval declares an eval handler.
func OnEval(action string, fn HandlerFunc, params ...Param) Handler {
	return Handler{Kind: KindEval, Action: action, Params: params, Fn: fn}
}

// Required lists the names of the required parameters.
func (h Handler) Required() []string {
	var names []string
	for _, p := range h.Params {
		if !p.Optional {
			names = append(names, p.Name)
		}
	}
	return names
}

// bind builds the argument set for one invocation: shared values first, step
// params on top, then filtered down to what the handler declares.
func (h Handler) bind(evaluator string, params, shared map[string]any) (Args, error) {
	merged := make(map[string]any, len(params)+len(shared))
	for k, v := range shared {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	values := make(map[string]any, len(h.Params))
	for _, p := range h.Params {
		v, ok := merged[p.Name]
		if !ok {
			if p.Optional {
				continue
			}
			return Args{}, fmt.Errorf("%w: %s.%s requires %q", ErrMissingParam, evaluator, h.Action, p.Name)
		}
		values[p.Name] = v
	}
	if h.AcceptsAll {
		return Args{action: h.Action, values: merged}, nil
	}
	return Args{action: h.Action, values: values}, nil
}

// Args holds the parameters bound for one handler invocation.
type Args struct {
	action string
	values map[string]any
}

// NewArgs wraps values as Args, mostly for tests and adapters.
func NewArgs(action string, values map[string]any) Args {
	return Args{action: action, values: values}
}

// Has reports whether name was supplied.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Value returns the raw value for name.
func (a Args) Value(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Names returns the bound parameter names in sorted order.
func (a Args) Names() []string {
	names := make([]string, 0, len(a.values))
	for k := range a.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the bound values.
func (a Args) Map() map[string]any {
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// String returns name as a string.
func (a Args) String(name string) (string, error) {
	v, ok := a.values[name]
	if !ok {
		return "", fmt.Errorf("%w: %s requires %q", ErrMissingParam, a.action, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s must be a string, got %T", ErrInvalidParam, a.action, name, v)
	}
	return s, nil
}

// StringOr returns name as a string, or def when it was not supplied.
func (a Args) StringOr(name, def string) (string, error) {
	if !a.Has(name) {
		return def, nil
	}
	return a.String(name)
}

// Int returns name as an int. Whole floats (as decoded from JSON) are accepted.
func (a Args) Int(name string) (int, error) {
	v, ok := a.values[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s requires %q", ErrMissingParam, a.action, name)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("%w: %s.%s must be an integer, got %v", ErrInvalidParam, a.action, name, v)
}

// Bool returns name as a bool.
func (a Args) Bool(name string) (bool, error) {
	v, ok := a.values[name]
	if !ok {
		return false, fmt.Errorf("%w: %s requires %q", ErrMissingParam, a.action, name)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s.%s must be a boolean, got %T", ErrInvalidParam, a.action, name, v)
	}
	return b, nil
}
