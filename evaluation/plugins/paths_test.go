package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbench/evaluation/evaluator"
)

func TestResolvePath(t *testing.T) {
	work := t.TempDir()
	base, err := filepath.Abs(work)
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		want    string
		escapes bool
	}{
		{name: "relative", path: "a/b.txt", want: filepath.Join(base, "a", "b.txt")},
		{name: "dot", path: ".", want: base},
		{name: "inner dotdot", path: "a/../b.txt", want: filepath.Join(base, "b.txt")},
		{name: "absolute inside", path: filepath.Join(base, "c.txt"), want: filepath.Join(base, "c.txt")},
		{name: "parent", path: "../outside.txt", escapes: true},
		{name: "absolute outside", path: filepath.Join(filepath.Dir(base), "outside.txt"), escapes: true},
		{name: "sibling prefix", path: base + "-other/x", escapes: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(work, tt.path)
			if tt.escapes {
				require.ErrorIs(t, err, ErrPathEscape)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = ResolvePath(work, " ")
	require.Error(t, err)
}

func TestStarlarkFilesystemStaysInWorkDir(t *testing.T) {
	root := t.TempDir()
	parent := t.TempDir()
	work := filepath.Join(parent, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	victim := writeFile(t, parent, "victim.txt", "keep me")
	writeFile(t, root, "notes.star", notesPlugin)
	writeFile(t, root, "gated.star", gatedPlugin)
	c := discover(t, root)
	ctx := context.Background()

	notes, err := c.Open("notes", Env{WorkDir: work})
	require.NoError(t, err)
	err = evaluator.Reset(ctx, notes, evaluator.Procedure{
		{Action: "write_note", Params: map[string]any{"path": "../escape.txt", "content": "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes work directory")
	assert.NoFileExists(t, filepath.Join(parent, "escape.txt"))

	gated, err := c.Open("gated", Env{WorkDir: work, Guard: &stubConfirmer{answer: true}})
	require.NoError(t, err)
	for _, path := range []string{"../victim.txt", victim} {
		err = evaluator.Reset(ctx, gated, evaluator.Procedure{
			{Action: "wipe", Params: map[string]any{"path": path}},
		})
		require.Error(t, err, path)
		assert.Contains(t, err.Error(), "escapes work directory")
	}
	assert.FileExists(t, victim)
}
