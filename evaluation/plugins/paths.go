package plugins

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned for paths that leave the plugin work directory.
var ErrPathEscape = errors.New("path escapes work directory")

// ResolvePath joins userPath onto workDir and refuses paths that escape it,
// whether through ".." or an absolute path. Without a workDir, paths are used
// as given.
func ResolvePath(workDir, userPath string) (string, error) {
	if strings.TrimSpace(userPath) == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	if workDir == "" {
		return filepath.Clean(userPath), nil
	}
	base, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("could not resolve work directory: %w", err)
	}
	joined := userPath
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(base, joined)
	}
	joined = filepath.Clean(joined)
	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, userPath)
	}
	return joined, nil
}
