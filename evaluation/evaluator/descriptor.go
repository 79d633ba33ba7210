package evaluator

import (
	"fmt"
	"sort"
	"strings"

	errs "taskbench/internal/shared/errors"
)

// Descriptor is one evaluator instance: a plugin name plus its reset and eval
// handler tables. It is immutable once built.
type Descriptor struct {
	name  string
	reset map[string]Handler
	eval  map[string]Handler
}

// New builds a descriptor from an explicit handler table. Registering two
// handlers of the same kind under one action name is an error.
func New(name string, handlers ...Handler) (*Descriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.NewConfigError(nil, "evaluator name is required")
	}
	d := &Descriptor{
		name:  name,
		reset: make(map[string]Handler),
		eval:  make(map[string]Handler),
	}
	for _, h := range handlers {
		if h.Fn == nil {
			return nil, errs.NewConfigError(nil, fmt.Sprintf("%s.%s has no function", name, h.Action))
		}
		var table map[string]Handler
		switch h.Kind {
		case KindReset:
			table = d.reset
		case KindEval:
			table = d.eval
		default:
			return nil, errs.NewConfigError(nil, fmt.Sprintf("%s.%s has unknown handler kind %q", name, h.Action, h.Kind))
		}
		if _, exists := table[h.Action]; exists {
			return nil, fmt.Errorf("%w: %s handler %s.%s registered twice", ErrDuplicateAction, h.Kind, name, h.Action)
		}
		table[h.Action] = h
	}
	return d, nil
}

// Name returns the plugin name.
func (d *Descriptor) Name() string { return d.name }

// Handler looks up the handler for action of the given kind.
func (d *Descriptor) Handler(kind Kind, action string) (Handler, bool) {
	var h Handler
	var ok bool
	switch kind {
	case KindReset:
		h, ok = d.reset[action]
	case KindEval:
		h, ok = d.eval[action]
	}
	return h, ok
}

// Actions lists the action names of the given kind, sorted.
func (d *Descriptor) Actions(kind Kind) []string {
	table := d.eval
	if kind == KindReset {
		table = d.reset
	}
	names := make([]string, 0, len(table))
	for action := range table {
		names = append(names, action)
	}
	sort.Strings(names)
	return names
}
