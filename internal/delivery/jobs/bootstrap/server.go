package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskbench/internal/app/jobs"
	"taskbench/internal/config"
	jobsHTTP "taskbench/internal/delivery/jobs/http"
	"taskbench/internal/shared/async"
	"taskbench/internal/shared/logging"
	"taskbench/internal/taskstate"
)

// Server is a fully wired job server.
type Server struct {
	Foundation *Foundation
	Runner     *jobs.Runner
	HTTP       *http.Server
}

// NewServer wires the runner and router on top of f.
func NewServer(f *Foundation) (*Server, error) {
	cfg := f.Config
	machine := taskstate.New(taskstate.WithLogger(logging.NewComponentLogger("State")))
	runner, err := jobs.NewRunner(jobs.Options{
		Machine:        machine,
		Catalog:        f.Plugins,
		ConfirmEnabled: cfg.Confirm.Enabled,
		Asker:          f.ServerAsker(machine),
		WorkDir:        f.Sandbox.WorkDir(),
		JobTimeout:     cfg.Server.JobTimeout,
		Metrics:        f.Metrics,
		Tracer:         f.Tracing.Tracer(),
		Logger:         logging.NewComponentLogger("Jobs"),
	})
	if err != nil {
		return nil, fmt.Errorf("init job runner: %w", err)
	}

	deps := jobsHTTP.RouterDeps{
		Runner:  runner,
		Sandbox: f.Sandbox,
		Catalog: f.Plugins,
		Logger:  logging.NewComponentLogger("HTTP"),
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = promhttp.HandlerFor(f.Registry, promhttp.HandlerOpts{})
	}
	router := jobsHTTP.NewRouter(deps, jobsHTTP.RouterConfig{
		Environment:    cfg.Server.Environment,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsPath:    cfg.Metrics.Path,
	})

	// Job requests block until the job needs input or finishes, so there is
	// no write timeout.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return &Server{Foundation: f, Runner: runner, HTTP: srv}, nil
}

// RunServer serves the job protocol until ctx is done or SIGINT/SIGTERM
// arrives, then shuts down gracefully.
func RunServer(ctx context.Context, opts ...config.Option) error {
	f, err := BuildFoundation(opts...)
	if err != nil {
		return err
	}
	logger := f.Logger
	defer func() {
		if err := f.Close(context.Background()); err != nil {
			logger.Warn("close: %v", err)
		}
	}()

	s, err := NewServer(f)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.Config.Plugins.Watch {
		async.Go(logger, "plugins.watch", func() {
			if err := f.Plugins.Watch(ctx); err != nil {
				logger.Warn("plugin watcher stopped: %v", err)
			}
		})
	}

	errCh := make(chan error, 1)
	async.Go(logger, "http.serve", func() {
		logger.Info("listening on %s (env=%s)", s.HTTP.Addr, f.Config.Server.Environment)
		if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	})

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	timeout := f.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Unblock waiting requests before draining connections.
	s.Runner.Close()
	if err := s.HTTP.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}
