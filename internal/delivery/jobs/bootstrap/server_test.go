package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"taskbench/internal/config"
	"taskbench/internal/confirm"
	"taskbench/internal/taskstate"
)

func testFoundation(t *testing.T, overrides map[string]any) *Foundation {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	roots := filepath.Join(dir, "plugins")
	if err := os.MkdirAll(roots, 0o755); err != nil {
		t.Fatal(err)
	}
	plugin := "name = \"notes\"\n\ndef has(path):\n    if not fs.exists(path):\n        feedback(\"missing \" + path)\n\nevaluator(eval = {\"has\": has})\n"
	if err := os.WriteFile(filepath.Join(roots, "notes.star"), []byte(plugin), 0o644); err != nil {
		t.Fatal(err)
	}
	values := map[string]any{
		"plugins.roots":   []string{roots},
		"sandbox.workdir": filepath.Join(dir, "sandbox"),
		"sandbox.shell":   "sh",
		"logging.level":   "error",
	}
	for k, v := range overrides {
		values[k] = v
	}
	f, err := BuildFoundation(config.WithSearchPaths(dir), config.WithOverrides(values))
	if err != nil {
		t.Fatalf("build foundation: %v", err)
	}
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return f
}

func TestBuildFoundationDiscoversPlugins(t *testing.T) {
	f := testFoundation(t, nil)

	if _, ok := f.Plugins.Current().Lookup("notes"); !ok {
		t.Fatalf("expected starlark plugin, have %v", f.Plugins.Current().Names())
	}
	if _, ok := f.Plugins.Current().Lookup("filesystem"); !ok {
		t.Fatalf("expected built-in filesystem plugin, have %v", f.Plugins.Current().Names())
	}
	if !strings.HasSuffix(f.Sandbox.WorkDir(), "sandbox") {
		t.Fatalf("unexpected sandbox dir %s", f.Sandbox.WorkDir())
	}
	if env := f.PluginEnv(nil); env.WorkDir != f.Sandbox.WorkDir() || env.Guard != nil {
		t.Fatalf("unexpected plugin env %+v", env)
	}
}

func TestServerAskerFollowsMode(t *testing.T) {
	machine := taskstate.New()

	f := testFoundation(t, map[string]any{"confirm.mode": "state"})
	if _, ok := f.ServerAsker(machine).(confirm.StateAsker); !ok {
		t.Fatalf("state mode should ask through the state machine")
	}
	f = testFoundation(t, map[string]any{"confirm.mode": "terminal"})
	if _, ok := f.ServerAsker(machine).(*confirm.TerminalAsker); !ok {
		t.Fatalf("terminal mode should ask on the console")
	}
}

func TestServerRunsEvalJob(t *testing.T) {
	f := testFoundation(t, nil)
	s, err := NewServer(f)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer s.Runner.Close()
	if err := os.WriteFile(filepath.Join(f.Sandbox.WorkDir(), "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	body := `{"task_config": {"eval_procedure": [
		{"evaluator": "notes", "action": "has", "params": {"path": "a.txt"}},
		{"evaluator": "notes", "action": "has", "params": {"path": "b.txt"}}
	]}}`
	req := httptest.NewRequest(http.MethodPost, "/task/eval", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.HTTP.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status  string `json:"status"`
		Message struct {
			Score    float64 `json:"score"`
			Feedback string  `json:"feedback"`
		} `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "finished" || resp.Message.Score != 0 || resp.Message.Feedback != "missing b.txt\n" {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = httptest.NewRecorder()
	s.HTTP.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "taskbench_eval_score") {
		t.Fatalf("metrics endpoint missing job metrics: %d", rec.Code)
	}
}
