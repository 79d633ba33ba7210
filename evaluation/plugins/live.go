package plugins

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"taskbench/internal/shared/logging"
)

const watchDebounce = 250 * time.Millisecond

// Live holds the current catalog and can replace it when plugin sources change.
// Jobs read Current once at start, so a swap never affects a running job.
type Live struct {
	opts    DiscoverOptions
	current atomic.Pointer[Catalog]
	logger  logging.Logger
}

// NewLive runs an initial discovery.
func NewLive(opts DiscoverOptions) (*Live, error) {
	l := &Live{opts: opts, logger: logging.OrNop(opts.Logger)}
	if err := l.Rediscover(); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the latest catalog.
func (l *Live) Current() *Catalog {
	return l.current.Load()
}

// Rediscover rescans every root and swaps the catalog in.
func (l *Live) Rediscover() error {
	c, err := Discover(l.opts)
	if err != nil {
		return err
	}
	l.current.Store(c)
	return nil
}

// Watch rescans the plugin roots whenever a file below them changes. It blocks
// until ctx is done.
func (l *Live) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range l.opts.Roots {
		if err := addTree(watcher, root); err != nil {
			l.logger.Warn("watch %s: %v", root, err)
		}
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addTree(watcher, ev.Name)
				}
			}
			pending = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("plugin watcher: %v", err)
		case <-pending:
			pending = nil
			if err := l.Rediscover(); err != nil {
				l.logger.Error("plugin rediscovery failed: %v", err)
				continue
			}
			l.logger.Info("plugin catalog reloaded")
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
