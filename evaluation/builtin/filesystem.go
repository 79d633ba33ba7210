package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"taskbench/evaluation/evaluator"
	"taskbench/evaluation/plugins"
	"taskbench/internal/shared/logging"
)

// FilesystemName is the plugin name of the filesystem evaluator.
const FilesystemName = "filesystem"

type filesystem struct {
	env    plugins.Env
	logger logging.Logger
}

// NewFilesystem builds the filesystem evaluator. Paths resolve against
// env.WorkDir and may not leave it.
func NewFilesystem(env plugins.Env) (*evaluator.Descriptor, error) {
	fs := &filesystem{env: env, logger: logging.OrNop(env.Logger)}
	return evaluator.New(FilesystemName,
		evaluator.OnReset("create_file", fs.createFile, evaluator.Arg("path"), evaluator.OptionalArg("content")),
		evaluator.OnReset("delete_file", fs.deleteFile, evaluator.Arg("path")),
		evaluator.OnReset("make_dir", fs.makeDir, evaluator.Arg("path")),
		evaluator.OnEval("file_exists", fs.fileExists, evaluator.Arg("path")),
		evaluator.OnEval("file_absent", fs.fileAbsent, evaluator.Arg("path")),
		evaluator.OnEval("file_contains", fs.fileContains, evaluator.Arg("path"), evaluator.Arg("text")),
		evaluator.OnEval("file_equals", fs.fileEquals, evaluator.Arg("path"), evaluator.Arg("expected")),
	)
}

func (f *filesystem) path(args evaluator.Args) (string, string, error) {
	rel, err := args.String("path")
	if err != nil {
		return "", "", err
	}
	full, err := plugins.ResolvePath(f.env.WorkDir, rel)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", evaluator.ErrInvalidParam, err)
	}
	return rel, full, nil
}

func (f *filesystem) createFile(_ context.Context, args evaluator.Args) error {
	_, full, err := f.path(args)
	if err != nil {
		return err
	}
	content, err := args.StringOr("content", "")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

func (f *filesystem) deleteFile(ctx context.Context, args evaluator.Args) error {
	rel, full, err := f.path(args)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(full); os.IsNotExist(err) {
		return nil
	}
	ran, err := guarded(ctx, f.env, fmt.Sprintf("Delete %s?", rel), func(context.Context) (any, error) {
		return nil, os.RemoveAll(full)
	})
	if err != nil {
		return err
	}
	if !ran {
		f.logger.Info("kept %s: deletion not confirmed", rel)
	}
	return nil
}

func (f *filesystem) makeDir(_ context.Context, args evaluator.Args) error {
	_, full, err := f.path(args)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

func (f *filesystem) fileExists(_ context.Context, args evaluator.Args) error {
	rel, full, err := f.path(args)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return evaluator.Feedback("expected %s to exist", rel)
		}
		return err
	}
	return nil
}

func (f *filesystem) fileAbsent(_ context.Context, args evaluator.Args) error {
	rel, full, err := f.path(args)
	if err != nil {
		return err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return evaluator.Feedback("expected %s to be absent", rel)
	case os.IsNotExist(err):
		return nil
	default:
		return err
	}
}

// read returns the file body, or feedback when it is missing.
func (f *filesystem) read(rel, full string) (string, error) {
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return "", evaluator.Feedback("expected %s to exist", rel)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *filesystem) fileContains(_ context.Context, args evaluator.Args) error {
	rel, full, err := f.path(args)
	if err != nil {
		return err
	}
	text, err := args.String("text")
	if err != nil {
		return err
	}
	body, err := f.read(rel, full)
	if err != nil {
		return err
	}
	if !strings.Contains(body, text) {
		return evaluator.Feedback("%s does not contain %q", rel, text)
	}
	return nil
}

func (f *filesystem) fileEquals(_ context.Context, args evaluator.Args) error {
	rel, full, err := f.path(args)
	if err != nil {
		return err
	}
	expected, err := args.String("expected")
	if err != nil {
		return err
	}
	body, err := f.read(rel, full)
	if err != nil {
		return err
	}
	if body != expected {
		return evaluator.Feedback("%s differs from expected content:\n%s", rel, lineDiff(expected, body))
	}
	return nil
}

// lineDiff renders a line-oriented diff of want against got, prefixing removed
// lines with "-" and added lines with "+".
func lineDiff(want, got string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(want, got)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(strings.TrimSuffix(line, "\n"))
			out.WriteString("\n")
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}
