// Package plugins discovers evaluator plugins and instantiates them lazily.
//
// Go plugins register themselves from init functions through Register.
// Starlark plugins are found by scanning plugin roots; their sources are parsed
// but not executed until a task references the plugin by name.
package plugins

import (
	"context"
	"sync"

	"taskbench/evaluation/evaluator"
	"taskbench/internal/shared/logging"
)

// Confirmer gates an action behind a human decision. It reports whether the
// action ran and its result.
type Confirmer interface {
	Run(ctx context.Context, prompt string, action func(ctx context.Context) (any, error)) (bool, any, error)
}

// Env carries the collaborators a plugin instance may use.
type Env struct {
	Guard   Confirmer
	WorkDir string
	Logger  logging.Logger
}

// Constructor builds a fresh evaluator instance.
type Constructor func(env Env) (*evaluator.Descriptor, error)

// Plugin is a compiled-in evaluator plugin.
type Plugin struct {
	Name string
	New  Constructor
}

var (
	registryMu sync.Mutex
	registered []Plugin
)

// Register adds a compiled-in plugin. It is meant to be called from init.
// Name clashes are resolved at discovery time, where the later registration is
// rejected.
func Register(p Plugin) {
	if p.Name == "" || p.New == nil {
		panic("plugins: Register requires a name and a constructor")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registered = append(registered, p)
}

// Registered returns a copy of the compiled-in plugin list in registration order.
func Registered() []Plugin {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Plugin, len(registered))
	copy(out, registered)
	return out
}
