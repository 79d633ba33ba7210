package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newShell(t *testing.T, timeout time.Duration) *Shell {
	t.Helper()
	s, err := NewShell(Config{WorkDir: filepath.Join(t.TempDir(), "box"), Shell: "sh", Timeout: timeout}, nil)
	if err != nil {
		t.Fatalf("new shell: %v", err)
	}
	return s
}

func TestExecuteRunsInWorkDir(t *testing.T) {
	s := newShell(t, 5*time.Second)
	res, err := s.Execute(context.Background(), "echo hello > greeting.txt && cat greeting.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Output) != "hello" || res.Error != "" || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(s.WorkDir(), "greeting.txt")); err != nil {
		t.Fatalf("file not created in work dir: %v", err)
	}
}

func TestExecuteReportsFailure(t *testing.T) {
	s := newShell(t, 5*time.Second)
	res, err := s.Execute(context.Background(), "echo oops; exit 3")
	if err != nil {
		t.Fatalf("code failures are not Go errors: %v", err)
	}
	if res.ExitCode != 3 || res.Error == "" || !strings.Contains(res.Output, "oops") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteTimeout(t *testing.T) {
	s := newShell(t, 50*time.Millisecond)
	res, err := s.Execute(context.Background(), "sleep 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Error, "timeout") {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestExecuteMissingShell(t *testing.T) {
	s, err := NewShell(Config{WorkDir: t.TempDir(), Shell: "/definitely/not/a/shell"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Execute(context.Background(), "true"); err == nil {
		t.Fatal("expected infrastructure error")
	}
}

func TestResetEmptiesWorkDir(t *testing.T) {
	s := newShell(t, 5*time.Second)
	if _, err := s.Execute(context.Background(), "mkdir -p a/b && touch a/b/c top.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	entries, err := os.ReadDir(s.WorkDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, found %d entries", len(entries))
	}
}
