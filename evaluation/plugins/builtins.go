package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"taskbench/evaluation/evaluator"
)

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"evaluator": starlark.NewBuiltin("evaluator", builtinEvaluator),
		"feedback":  starlark.NewBuiltin("feedback", builtinFeedback),
		"confirm":   starlark.NewBuiltin("confirm", builtinConfirm),
		"json":      starlarkjson.Module,
		"fs": &starlarkstruct.Module{
			Name: "fs",
			Members: starlark.StringDict{
				"read":    starlark.NewBuiltin("fs.read", fsRead),
				"write":   starlark.NewBuiltin("fs.write", fsWrite),
				"remove":  starlark.NewBuiltin("fs.remove", fsRemove),
				"exists":  starlark.NewBuiltin("fs.exists", fsExists),
				"listdir": starlark.NewBuiltin("fs.listdir", fsListdir),
			},
		},
	}
}

// evaluator(reset = {...}, eval = {...}) declares the plugin's handler tables.
func builtinEvaluator(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var reset, eval *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "reset?", &reset, "eval?", &eval); err != nil {
		return nil, err
	}
	decl, ok := thread.Local(declKey).(*declaration)
	if !ok {
		return nil, fmt.Errorf("%s: only callable at the top level of a plugin", b.Name())
	}
	if decl.called {
		return nil, fmt.Errorf("%s: called more than once", b.Name())
	}
	decl.called = true
	decl.reset = reset
	decl.eval = eval
	return starlark.None, nil
}

// feedback(msg) fails the current eval step with msg.
func builtinFeedback(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
		return nil, err
	}
	fe := &evaluator.FeedbackError{Message: msg}
	thread.SetLocal(feedbackKey, fe)
	return nil, fe
}

// confirm(prompt, action=None) asks a human before proceeding. Without an
// action it returns a bool; with one it returns (ran, result).
func builtinConfirm(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var prompt string
	var action starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "prompt", &prompt, "action?", &action); err != nil {
		return nil, err
	}
	env, ctx, err := handlerScope(thread, b.Name())
	if err != nil {
		return nil, err
	}

	var run func(ctx context.Context) (any, error)
	if action != starlark.None {
		callable, ok := action.(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("%s: action must be callable, got %s", b.Name(), action.Type())
		}
		run = func(context.Context) (any, error) {
			return starlark.Call(thread, callable, nil, nil)
		}
	}

	ran, result, err := guardRun(ctx, env.Guard, prompt, run)
	if err != nil {
		thread.SetLocal(abortKey, err)
		return nil, err
	}
	if run == nil {
		return starlark.Bool(ran), nil
	}
	value, _ := result.(starlark.Value)
	if !ran || value == nil {
		value = starlark.None
	}
	return starlark.Tuple{starlark.Bool(ran), value}, nil
}

func guardRun(ctx context.Context, guard Confirmer, prompt string, run func(context.Context) (any, error)) (bool, any, error) {
	if run == nil {
		run = func(context.Context) (any, error) { return nil, nil }
	}
	if guard == nil {
		res, err := run(ctx)
		return err == nil, res, err
	}
	return guard.Run(ctx, prompt, run)
}

func handlerScope(thread *starlark.Thread, fn string) (Env, context.Context, error) {
	env, ok := thread.Local(envKey).(Env)
	if !ok {
		return Env{}, nil, fmt.Errorf("%s: only available inside handlers", fn)
	}
	ctx, ok := thread.Local(ctxKey).(context.Context)
	if !ok {
		ctx = context.Background()
	}
	return env, ctx, nil
}

func resolvePath(thread *starlark.Thread, fn, path string) (string, error) {
	var workDir string
	if env, ok := thread.Local(envKey).(Env); ok {
		workDir = env.WorkDir
	}
	full, err := ResolvePath(workDir, path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", fn, err)
	}
	return full, nil
}

func fsRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	full, err := resolvePath(thread, b.Name(), path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(data), nil
}

func fsWrite(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, content string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "content", &content); err != nil {
		return nil, err
	}
	full, err := resolvePath(thread, b.Name(), path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func fsRemove(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	full, err := resolvePath(thread, b.Name(), path)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(full); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func fsExists(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	full, err := resolvePath(thread, b.Name(), path)
	if err != nil {
		return nil, err
	}
	_, err = os.Stat(full)
	return starlark.Bool(err == nil), nil
}

func fsListdir(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	full, err := resolvePath(thread, b.Name(), path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	elems := make([]starlark.Value, len(names))
	for i, n := range names {
		elems[i] = starlark.String(n)
	}
	return starlark.NewList(elems), nil
}
