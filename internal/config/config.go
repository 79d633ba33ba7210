// Package config loads taskbench settings from taskbench.yaml, TASKBENCH_*
// environment variables and explicit overrides, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"taskbench/internal/confirm"
	"taskbench/internal/observability"
	"taskbench/internal/sandbox"
	errs "taskbench/internal/shared/errors"
	"taskbench/internal/shared/logging"
)

// Config is the complete runtime configuration.
type Config struct {
	Server  ServerConfig                `mapstructure:"server"`
	Plugins PluginsConfig               `mapstructure:"plugins"`
	Confirm ConfirmConfig               `mapstructure:"confirm"`
	Sandbox sandbox.Config              `mapstructure:"sandbox"`
	Logging LoggingConfig               `mapstructure:"logging"`
	Metrics MetricsConfig               `mapstructure:"metrics"`
	Tracing observability.TracingConfig `mapstructure:"tracing"`
}

// ServerConfig configures the job protocol server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Environment     string        `mapstructure:"environment"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// JobTimeout bounds a job without its own task timeout; zero means none.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// PluginsConfig configures evaluator plugin discovery.
type PluginsConfig struct {
	Roots     []string `mapstructure:"roots"`
	Pattern   string   `mapstructure:"pattern"`
	Watch     bool     `mapstructure:"watch"`
	CacheSize int      `mapstructure:"cache_size"`
}

// ConfirmConfig configures the confirmation guard.
type ConfirmConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Mode    string `mapstructure:"mode"`
}

// LoggingConfig configures the logging backend.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	File    string `mapstructure:"file"`
	Journal bool   `mapstructure:"journal"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingOptions converts the logging section for logging.Configure.
func (c LoggingConfig) LoggingOptions() logging.Options {
	return logging.Options{
		Level:   c.Level,
		Format:  c.Format,
		File:    c.File,
		Journal: c.Journal,
	}
}

// ConfirmMode returns the parsed confirm mode.
func (c ConfirmConfig) ConfirmMode() confirm.Mode {
	mode, err := confirm.ParseMode(c.Mode)
	if err != nil {
		return confirm.ModeAuto
	}
	return mode
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errs.NewConfigError(nil, "server.addr must not be empty")
	}
	if _, err := confirm.ParseMode(c.Confirm.Mode); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return errs.NewConfigError(nil, fmt.Sprintf("logging.format %q: want text or json", c.Logging.Format))
	}
	if c.Plugins.CacheSize < 0 {
		return errs.NewConfigError(nil, "plugins.cache_size must not be negative")
	}
	if c.Sandbox.Timeout < 0 {
		return errs.NewConfigError(nil, "sandbox.timeout must not be negative")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errs.NewConfigError(nil, fmt.Sprintf("metrics.path %q must start with /", c.Metrics.Path))
	}
	return nil
}
