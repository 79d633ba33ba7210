package plugins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"taskbench/evaluation/evaluator"
	errs "taskbench/internal/shared/errors"
	"taskbench/internal/shared/logging"
)

var (
	// ErrUnknownEvaluator is returned when a step names a plugin the catalog does not know.
	ErrUnknownEvaluator = errs.NewConfigError(nil, "unknown evaluator")
	// ErrDuplicatePlugin marks a plugin rejected because its name was already taken.
	ErrDuplicatePlugin = errs.NewConfigError(nil, "duplicate plugin name")
)

const (
	// DefaultPattern matches Starlark plugin sources below a root.
	DefaultPattern = "**/*.star"
	// BuiltinSource is the Source of compiled-in plugins.
	BuiltinSource = "builtin"
)

// EntryKind tells how a plugin is implemented.
type EntryKind string

const (
	EntryGo       EntryKind = "go"
	EntryStarlark EntryKind = "starlark"
)

// Entry describes one discovered plugin.
type Entry struct {
	Name   string    `json:"name"`
	Kind   EntryKind `json:"kind"`
	Source string    `json:"source"`
	newFn  Constructor
}

// Rejection records a plugin candidate that discovery refused.
type Rejection struct {
	Name   string `json:"name,omitempty"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// DiscoverOptions controls a discovery pass.
type DiscoverOptions struct {
	Roots     []string
	Pattern   string
	Builtins  []Plugin
	CacheSize int
	Logger    logging.Logger
}

// Catalog maps plugin names to constructors.
type Catalog struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	rejected []Rejection
	loader   *starlarkLoader
	logger   logging.Logger
}

// Discover builds a catalog from the compiled-in plugins and every Starlark
// source under opts.Roots. A broken or duplicate plugin is logged and skipped;
// it never fails discovery as a whole.
func Discover(opts DiscoverOptions) (*Catalog, error) {
	logger := logging.OrNop(opts.Logger)
	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, errs.NewConfigError(doublestar.ErrBadPattern, fmt.Sprintf("plugin pattern %q", pattern))
	}
	loader, err := newStarlarkLoader(opts.CacheSize, logger)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		entries: make(map[string]*Entry),
		loader:  loader,
		logger:  logger,
	}

	builtins := opts.Builtins
	if builtins == nil {
		builtins = Registered()
	}
	for _, p := range builtins {
		c.add(&Entry{Name: p.Name, Kind: EntryGo, Source: BuiltinSource, newFn: p.New})
	}

	for _, root := range opts.Roots {
		c.scanRoot(root, pattern)
	}

	logger.Info("discovered %d evaluator plugins (%d rejected)", len(c.entries), len(c.rejected))
	return c, nil
}

func (c *Catalog) scanRoot(root, pattern string) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		c.logger.Warn("plugin root %s skipped: not a readable directory", root)
		return
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		c.logger.Warn("plugin root %s: glob %q failed: %v", root, pattern, err)
		return
	}
	sort.Strings(matches)
	for _, rel := range matches {
		path := filepath.Join(root, filepath.FromSlash(rel))
		c.inspectFile(path)
	}
}

func (c *Catalog) inspectFile(path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		c.reject(Rejection{Source: path, Reason: err.Error()})
		return
	}
	name, err := inspectSource(path, src)
	switch {
	case errors.Is(err, errNotPlugin):
		c.logger.Debug("%s does not declare an evaluator, skipping", path)
		return
	case err != nil:
		c.reject(Rejection{Source: path, Reason: err.Error()})
		return
	}
	loader := c.loader
	c.add(&Entry{
		Name:   name,
		Kind:   EntryStarlark,
		Source: path,
		newFn: func(env Env) (*evaluator.Descriptor, error) {
			mod, err := loader.load(path)
			if err != nil {
				return nil, err
			}
			return mod.descriptor(name, env)
		},
	})
}

func (c *Catalog) add(e *Entry) {
	if existing, ok := c.entries[e.Name]; ok {
		c.reject(Rejection{
			Name:   e.Name,
			Source: e.Source,
			Reason: fmt.Sprintf("%v: already provided by %s", ErrDuplicatePlugin, existing.Source),
		})
		return
	}
	c.entries[e.Name] = e
}

func (c *Catalog) reject(r Rejection) {
	c.logger.Error("plugin rejected (%s): %s", r.Source, r.Reason)
	c.rejected = append(c.rejected, r)
}

// Lookup returns the entry registered under name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Names lists plugin names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries lists every entry sorted by name.
func (c *Catalog) Entries() []Entry {
	names := c.Names()
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		e, _ := c.Lookup(name)
		out = append(out, e)
	}
	return out
}

// Rejected lists the candidates discovery refused.
func (c *Catalog) Rejected() []Rejection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Rejection, len(c.rejected))
	copy(out, c.rejected)
	return out
}

// Open instantiates the named plugin.
func (c *Catalog) Open(name string, env Env) (*evaluator.Descriptor, error) {
	e, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvaluator, name)
	}
	if env.Logger == nil {
		env.Logger = logging.NewComponentLogger("plugin/" + name)
	}
	d, err := e.newFn(env)
	if err != nil {
		return nil, fmt.Errorf("open evaluator %q: %w", name, err)
	}
	if d.Name() != name {
		return nil, errs.NewConfigError(nil, fmt.Sprintf("plugin %q built an evaluator named %q", name, d.Name()))
	}
	return d, nil
}
