package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.starlark.net/starlark"
	"golang.org/x/sync/singleflight"

	"taskbench/evaluation/evaluator"
	errs "taskbench/internal/shared/errors"
	"taskbench/internal/shared/logging"
)

const defaultCacheSize = 64

// Thread-local keys shared by the loader and the builtins.
const (
	declKey     = "taskbench.declaration"
	envKey      = "taskbench.env"
	ctxKey      = "taskbench.ctx"
	feedbackKey = "taskbench.feedback"
	abortKey    = "taskbench.abort"
)

// declaration collects the arguments of the evaluator(...) call.
type declaration struct {
	called bool
	reset  *starlark.Dict
	eval   *starlark.Dict
}

// module is an executed, frozen Starlark plugin.
type module struct {
	path    string
	name    string
	modTime time.Time
	size    int64
	reset   *starlark.Dict
	eval    *starlark.Dict
}

// starlarkLoader executes plugin sources on first use and caches the frozen
// result until the file changes.
type starlarkLoader struct {
	cache  *lru.Cache[string, *module]
	group  singleflight.Group
	logger logging.Logger
}

func newStarlarkLoader(size int, logger logging.Logger) (*starlarkLoader, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *module](size)
	if err != nil {
		return nil, fmt.Errorf("plugin cache: %w", err)
	}
	return &starlarkLoader{cache: cache, logger: logging.OrNop(logger)}, nil
}

func (l *starlarkLoader) load(path string) (*module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat plugin: %w", err)
	}
	if mod, ok := l.cache.Get(path); ok && mod.modTime.Equal(info.ModTime()) && mod.size == info.Size() {
		return mod, nil
	}
	v, err, _ := l.group.Do(path, func() (any, error) {
		return l.exec(path, info)
	})
	if err != nil {
		return nil, err
	}
	return v.(*module), nil
}

func (l *starlarkLoader) exec(path string, info os.FileInfo) (*module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin: %w", err)
	}
	decl := &declaration{}
	thread := &starlark.Thread{
		Name: "load " + path,
		Print: func(_ *starlark.Thread, msg string) {
			l.logger.Info("%s: %s", path, msg)
		},
	}
	thread.SetLocal(declKey, decl)

	globals, err := starlark.ExecFileOptions(fileOptions, thread, path, src, predeclared())
	if err != nil {
		return nil, errs.NewConfigError(err, "load "+path)
	}
	if !decl.called {
		return nil, errs.NewConfigError(nil, path+": evaluator(...) was never called")
	}
	name, _ := starlark.AsString(globals[nameVar])
	for _, d := range []*starlark.Dict{decl.reset, decl.eval} {
		if d != nil {
			d.Freeze()
		}
	}

	mod := &module{
		path:    path,
		name:    name,
		modTime: info.ModTime(),
		size:    info.Size(),
		reset:   decl.reset,
		eval:    decl.eval,
	}
	l.cache.Add(path, mod)
	l.logger.Debug("loaded starlark plugin %q from %s", name, path)
	return mod, nil
}

// descriptor binds the module's handler tables to env.
func (m *module) descriptor(name string, env Env) (*evaluator.Descriptor, error) {
	if m.name != name {
		return nil, errs.NewConfigError(nil, fmt.Sprintf("%s now declares %q, discovered as %q", m.path, m.name, name))
	}
	tables := []struct {
		kind evaluator.Kind
		dict *starlark.Dict
	}{
		{evaluator.KindReset, m.reset},
		{evaluator.KindEval, m.eval},
	}
	var handlers []evaluator.Handler
	for _, table := range tables {
		if table.dict == nil {
			continue
		}
		for _, item := range table.dict.Items() {
			action, ok := starlark.AsString(item[0])
			if !ok {
				return nil, errs.NewConfigError(nil, fmt.Sprintf("%s: %s action keys must be strings, got %s", m.path, table.kind, item[0].Type()))
			}
			fn, ok := item[1].(starlark.Callable)
			if !ok {
				return nil, errs.NewConfigError(nil, fmt.Sprintf("%s: %s handler %q is a %s, not a function", m.path, table.kind, action, item[1].Type()))
			}
			h := evaluator.Handler{
				Kind:   table.kind,
				Action: action,
				Fn:     invoke(name, action, fn, env),
			}
			if sf, ok := fn.(*starlark.Function); ok {
				h.Params, h.AcceptsAll = signature(sf)
			} else {
				h.AcceptsAll = true
			}
			handlers = append(handlers, h)
		}
	}
	return evaluator.New(name, handlers...)
}

// signature derives handler params from a Starlark function: parameters
// without defaults are required, **kwargs accepts everything.
func signature(fn *starlark.Function) ([]evaluator.Param, bool) {
	n := fn.NumParams()
	acceptsAll := fn.HasKwargs()
	if acceptsAll {
		n--
	}
	if fn.HasVarargs() {
		n--
	}
	params := make([]evaluator.Param, 0, n)
	for i := 0; i < n; i++ {
		pname, _ := fn.Param(i)
		params = append(params, evaluator.Param{Name: pname, Optional: fn.ParamDefault(i) != nil})
	}
	return params, acceptsAll
}

func invoke(plugin, action string, fn starlark.Callable, env Env) evaluator.HandlerFunc {
	logger := logging.OrNop(env.Logger)
	return func(ctx context.Context, args evaluator.Args) error {
		thread := &starlark.Thread{
			Name: plugin + "." + action,
			Print: func(_ *starlark.Thread, msg string) {
				logger.Info("%s.%s: %s", plugin, action, msg)
			},
		}
		thread.SetLocal(envKey, env)
		thread.SetLocal(ctxKey, ctx)
		stop := context.AfterFunc(ctx, func() {
			thread.Cancel(context.Cause(ctx).Error())
		})
		defer stop()

		kwargs := make([]starlark.Tuple, 0, len(args.Names()))
		for _, key := range args.Names() {
			raw, _ := args.Value(key)
			v, err := toStarlark(raw)
			if err != nil {
				return fmt.Errorf("%w: %s.%s: %v", evaluator.ErrInvalidParam, plugin, action, err)
			}
			kwargs = append(kwargs, starlark.Tuple{starlark.String(key), v})
		}

		ret, err := starlark.Call(thread, fn, nil, kwargs)
		if err == nil {
			if ret != starlark.None {
				logger.Debug("%s.%s returned %v", plugin, action, fromStarlark(ret))
			}
			return nil
		}
		if fe, ok := thread.Local(feedbackKey).(*evaluator.FeedbackError); ok {
			return fe
		}
		if abort, ok := thread.Local(abortKey).(error); ok {
			return abort
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, err)
		}
		if fe, ok := evaluator.AsFeedback(err); ok {
			return fe
		}
		return err
	}
}
