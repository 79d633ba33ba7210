package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskbench/internal/confirm"
	errs "taskbench/internal/shared/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, meta, err := Load(WithSearchPaths(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if !cfg.Confirm.Enabled || cfg.Confirm.ConfirmMode() != confirm.ModeAuto {
		t.Fatalf("unexpected confirm defaults: %+v", cfg.Confirm)
	}
	if cfg.Plugins.Pattern != "**/*.star" || cfg.Plugins.CacheSize != 64 {
		t.Fatalf("unexpected plugin defaults: %+v", cfg.Plugins)
	}
	if meta.File() != "" || meta.Source("server.addr") != SourceDefault {
		t.Fatalf("expected defaults only, got file %q source %q", meta.File(), meta.Source("server.addr"))
	}
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskbench.yaml")
	content := `
server:
  addr: ":9000"
  job_timeout: 5m
plugins:
  roots: [./plugins, ./more]
  watch: true
confirm:
  mode: state
sandbox:
  timeout: 45s
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKBENCH_LOGGING_FORMAT", "json")
	t.Setenv("TASKBENCH_SERVER_ADDR", ":9100")

	cfg, meta, err := Load(
		WithSearchPaths(dir),
		WithOverrides(map[string]any{"confirm.enabled": false}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.File() != path {
		t.Fatalf("expected %s to be used, got %q", path, meta.File())
	}
	if cfg.Server.Addr != ":9100" {
		t.Fatalf("env should win over file, got %q", cfg.Server.Addr)
	}
	if cfg.Server.JobTimeout != 5*time.Minute || cfg.Sandbox.Timeout != 45*time.Second {
		t.Fatalf("durations not decoded: %+v %+v", cfg.Server, cfg.Sandbox)
	}
	if len(cfg.Plugins.Roots) != 2 || !cfg.Plugins.Watch {
		t.Fatalf("unexpected plugins: %+v", cfg.Plugins)
	}
	if cfg.Confirm.Enabled || cfg.Confirm.ConfirmMode() != confirm.ModeState {
		t.Fatalf("unexpected confirm: %+v", cfg.Confirm)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}

	for key, want := range map[string]ValueSource{
		"server.addr":     SourceEnv,
		"logging.level":   SourceFile,
		"confirm.enabled": SourceOverride,
		"metrics.path":    SourceDefault,
	} {
		if got := meta.Source(key); got != want {
			t.Errorf("Source(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]any{
		"confirm mode":  {"confirm.mode": "gui"},
		"log format":    {"logging.format": "xml"},
		"metrics path":  {"metrics.path": "metrics"},
		"empty address": {"server.addr": " "},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Load(WithSearchPaths(t.TempDir()), WithOverrides(overrides))
			if !errs.IsConfig(err) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")))
	if !errs.IsConfig(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}
