package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	errs "taskbench/internal/shared/errors"
)

// EnvPrefix prefixes every environment override, e.g. TASKBENCH_SERVER_ADDR.
const EnvPrefix = "TASKBENCH"

// ValueSource describes where a configuration value came from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Metadata records provenance for a loaded configuration.
type Metadata struct {
	file     string
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source returns the origin of a dotted key such as "server.addr".
func (m Metadata) Source(key string) ValueSource {
	if src, ok := m.sources[key]; ok {
		return src
	}
	return SourceDefault
}

// File returns the config file that was read, if any.
func (m Metadata) File() string { return m.file }

// LoadedAt returns when the configuration was loaded.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

var defaults = map[string]any{
	"server.addr":             ":8080",
	"server.environment":      "development",
	"server.allowed_origins":  []string{"*"},
	"server.read_timeout":     30 * time.Second,
	"server.shutdown_timeout": 10 * time.Second,
	"server.job_timeout":      time.Duration(0),
	"plugins.roots":           []string{"plugins"},
	"plugins.pattern":         "**/*.star",
	"plugins.watch":           false,
	"plugins.cache_size":      64,
	"confirm.enabled":         true,
	"confirm.mode":            "auto",
	"sandbox.workdir":         "",
	"sandbox.shell":           "bash",
	"sandbox.timeout":         30 * time.Second,
	"sandbox.env":             []string{},
	"logging.level":           "info",
	"logging.format":          "text",
	"logging.file":            "",
	"logging.journal":         false,
	"metrics.enabled":         true,
	"metrics.path":            "/metrics",
	"tracing.enabled":         false,
	"tracing.exporter":        "otlp",
	"tracing.otlp_endpoint":   "",
	"tracing.zipkin_endpoint": "",
	"tracing.sample_rate":     1.0,
	"tracing.service_name":    "taskbench",
	"tracing.service_version": "",
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	configPath  string
	searchPaths []string
	overrides   map[string]any
}

// WithConfigPath reads exactly this file; a missing file is an error.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithSearchPaths replaces the directories searched for taskbench.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) { o.searchPaths = paths }
}

// WithOverrides sets values that win over file and environment, keyed by
// dotted path. Command-line flags land here.
func WithOverrides(values map[string]any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = make(map[string]any, len(values))
		}
		for k, v := range values {
			o.overrides[k] = v
		}
	}
}

// Load builds the configuration: defaults, then taskbench.yaml (searched in
// ., ./configs and $HOME/.taskbench unless a path is given), then TASKBENCH_*
// environment variables, then overrides.
func Load(opts ...Option) (Config, Metadata, error) {
	o := loadOptions{searchPaths: []string{".", "./configs", "$HOME/.taskbench"}}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	meta := Metadata{sources: make(map[string]ValueSource), loadedAt: time.Now()}

	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
	} else {
		v.SetConfigName("taskbench")
		v.SetConfigType("yaml")
		for _, p := range o.searchPaths {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.configPath != "" || !errors.As(err, &notFound) {
			return Config{}, meta, errs.NewConfigError(err, "read config")
		}
	} else {
		meta.file = v.ConfigFileUsed()
	}

	for key, value := range o.overrides {
		v.Set(key, value)
	}

	for key := range defaults {
		switch {
		case o.overrides != nil && hasKey(o.overrides, key):
			meta.sources[key] = SourceOverride
		case envSet(key):
			meta.sources[key] = SourceEnv
		case v.InConfig(key):
			meta.sources[key] = SourceFile
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, meta, errs.NewConfigError(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, meta, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, meta, nil
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func envSet(key string) bool {
	name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	_, ok := os.LookupEnv(name)
	return ok
}
