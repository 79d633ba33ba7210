// Package bootstrap wires configuration, logging, observability, plugins and
// the sandbox into the job server and the headless CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	// Registers the built-in Go evaluators.
	_ "taskbench/evaluation/builtin"
	"taskbench/evaluation/plugins"
	"taskbench/internal/config"
	"taskbench/internal/confirm"
	"taskbench/internal/observability"
	"taskbench/internal/sandbox"
	"taskbench/internal/shared/logging"
	"taskbench/internal/taskstate"
)

// Foundation holds the process-wide components shared by every entry point.
type Foundation struct {
	Config   config.Config
	Meta     config.Metadata
	Logger   logging.Logger
	Tracing  *observability.TracerProvider
	Metrics  *observability.JobMetrics
	Registry prometheus.Gatherer
	Plugins  *plugins.Live
	Sandbox  *sandbox.Shell

	logCloser io.Closer
}

// BuildFoundation loads configuration and brings up the shared components in
// dependency order.
func BuildFoundation(opts ...config.Option) (*Foundation, error) {
	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	closer, err := logging.Configure(cfg.Logging.LoggingOptions())
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	f := &Foundation{
		Config:    cfg,
		Meta:      meta,
		Logger:    logging.NewComponentLogger("Bootstrap"),
		logCloser: closer,
	}
	if meta.File() != "" {
		f.Logger.Info("config loaded from %s", meta.File())
	}

	// Stage 1: observability
	f.Tracing, err = observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		f.Close(context.Background())
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	f.Metrics = observability.DefaultJobMetrics()
	f.Registry = prometheus.DefaultGatherer

	// Stage 2: plugin catalog
	f.Plugins, err = plugins.NewLive(plugins.DiscoverOptions{
		Roots:     cfg.Plugins.Roots,
		Pattern:   cfg.Plugins.Pattern,
		CacheSize: cfg.Plugins.CacheSize,
		Logger:    logging.NewComponentLogger("Plugins"),
	})
	if err != nil {
		f.Close(context.Background())
		return nil, fmt.Errorf("discover plugins: %w", err)
	}
	for _, r := range f.Plugins.Current().Rejected() {
		f.Logger.Warn("plugin %s rejected: %s", r.Source, r.Reason)
	}

	// Stage 3: sandbox
	f.Sandbox, err = sandbox.NewShell(cfg.Sandbox, logging.NewComponentLogger("Sandbox"))
	if err != nil {
		f.Close(context.Background())
		return nil, fmt.Errorf("init sandbox: %w", err)
	}
	f.Logger.Info("sandbox ready in %s", f.Sandbox.WorkDir())
	return f, nil
}

// PluginEnv returns the environment plugins run in, guarded by guard.
func (f *Foundation) PluginEnv(guard plugins.Confirmer) plugins.Env {
	env := plugins.Env{Logger: logging.NewComponentLogger("Evaluator")}
	if guard != nil {
		env.Guard = guard
	}
	if f.Sandbox != nil {
		env.WorkDir = f.Sandbox.WorkDir()
	}
	return env
}

// ServerAsker picks how the job server collects answers. Auto and state both
// route prompts through the state machine to the HTTP client; terminal asks
// the operator on the server's console.
func (f *Foundation) ServerAsker(machine *taskstate.Machine) confirm.Asker {
	if f.Config.Confirm.ConfirmMode() == confirm.ModeTerminal {
		return confirm.NewTerminalAsker()
	}
	return confirm.StateAsker{Machine: machine}
}

// Close releases every component that was started. It is safe to call on a
// partially built foundation.
func (f *Foundation) Close(ctx context.Context) error {
	var errs []error
	if f.Tracing != nil {
		if err := f.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if f.logCloser != nil {
		if err := f.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
