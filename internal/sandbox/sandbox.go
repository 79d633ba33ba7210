// Package sandbox runs code on behalf of the agent inside a scratch directory.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"taskbench/internal/shared/logging"
)

// Result is the outcome of one Execute call. Error is set when the code
// itself failed; infrastructure failures are returned as Go errors instead.
type Result struct {
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"-"`
}

// Executor runs code and can wipe its own state.
type Executor interface {
	Execute(ctx context.Context, code string) (Result, error)
	Reset(ctx context.Context) error
}

// Config configures a Shell sandbox.
type Config struct {
	WorkDir string        `mapstructure:"workdir"`
	Shell   string        `mapstructure:"shell"`
	Timeout time.Duration `mapstructure:"timeout"`
	Env     []string      `mapstructure:"env"`
}

const (
	defaultShell   = "bash"
	defaultTimeout = 30 * time.Second
)

// Shell executes code with "<shell> -c" in its work directory. Executions are
// serialized.
type Shell struct {
	cfg    Config
	mu     sync.Mutex
	logger logging.Logger
}

var _ Executor = (*Shell)(nil)

// NewShell prepares the work directory and returns a sandbox. An empty WorkDir
// gets a fresh temporary directory.
func NewShell(cfg Config, logger logging.Logger) (*Shell, error) {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.WorkDir == "" {
		dir, err := os.MkdirTemp("", "taskbench-sandbox-*")
		if err != nil {
			return nil, fmt.Errorf("create sandbox dir: %w", err)
		}
		cfg.WorkDir = dir
	}
	abs, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox dir: %w", err)
	}
	cfg.WorkDir = abs
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	return &Shell{cfg: cfg, logger: logging.OrNop(logger)}, nil
}

// WorkDir returns the absolute sandbox directory.
func (s *Shell) WorkDir() string { return s.cfg.WorkDir }

func (s *Shell) Execute(ctx context.Context, code string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, s.cfg.Shell, "-c", code)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.WaitDelay = time.Second

	start := time.Now()
	out, err := cmd.CombinedOutput()
	res := Result{Output: string(out), Duration: time.Since(start)}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		res.Error = fmt.Sprintf("timeout after %s", s.cfg.Timeout)
		res.ExitCode = -1
		return res, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Error = err.Error()
	default:
		return res, fmt.Errorf("run %s: %w", s.cfg.Shell, err)
	}
	s.logger.Debug("sandbox exec finished in %s (exit %d)", res.Duration.Round(time.Millisecond), res.ExitCode)
	return res, nil
}

// Reset empties the work directory.
func (s *Shell) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.cfg.WorkDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read sandbox dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.cfg.WorkDir, e.Name())); err != nil {
			return fmt.Errorf("reset sandbox: %w", err)
		}
	}
	s.logger.Info("sandbox %s reset", s.cfg.WorkDir)
	return os.MkdirAll(s.cfg.WorkDir, 0o755)
}
