// Package builtin holds the evaluator plugins compiled into taskbench. Each
// registers itself with the plugin registry from init.
package builtin

import (
	"context"

	"taskbench/evaluation/plugins"
)

func init() {
	plugins.Register(plugins.Plugin{Name: FilesystemName, New: NewFilesystem})
	plugins.Register(plugins.Plugin{Name: TrajectoryName, New: NewTrajectory})
	plugins.Register(plugins.Plugin{Name: WebName, New: NewWeb})
}

// guarded runs action through env.Guard when one is configured.
func guarded(ctx context.Context, env plugins.Env, prompt string, action func(context.Context) (any, error)) (bool, error) {
	if env.Guard == nil {
		_, err := action(ctx)
		return err == nil, err
	}
	ran, _, err := env.Guard.Run(ctx, prompt, action)
	return ran, err
}
