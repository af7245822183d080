// Package watch re-runs an action on the packages whose files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/quara-dev/repo/pkg/models"
)

// DefaultIgnore are the patterns, relative to the repository root, whose
// changes never trigger a run.
var DefaultIgnore = []string{
	"**/.*/**",
	"**/.*",
	"**/__pycache__/**",
	"**/*.pyc",
	"**/*.egg-info/**",
	"**/dist/**",
	"**/build/**",
	"**/*~",
}

// Handler is called with the changed packages of one batch, in registry order.
type Handler func(ctx context.Context, pkgs []*models.Package) error

// Options configure a Watcher.
type Options struct {
	// Root is the repository root; ignore patterns are relative to it.
	Root string
	// Packages are the packages to watch.
	Packages []*models.Package
	// Debounce is the quiet period that closes a batch.
	Debounce time.Duration
	// Ignore are doublestar patterns. Nil means DefaultIgnore.
	Ignore []string
	// Logger receives debug and warn messages. Nil discards them.
	Logger *zap.Logger
}

// Watcher maps file events to packages and batches them.
type Watcher struct {
	root     string
	pkgs     []*models.Package
	order    map[*models.Package]int
	debounce time.Duration
	ignore   []string
	log      *zap.Logger
	fsw      *fsnotify.Watcher
}

// New validates the options and prepares a watcher. Nothing is watched
// until Run.
func New(opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore
	}
	for _, p := range opts.Ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	w := &Watcher{
		root:     root,
		pkgs:     opts.Packages,
		order:    make(map[*models.Package]int, len(opts.Packages)),
		debounce: opts.Debounce,
		ignore:   opts.Ignore,
		log:      log,
	}
	for i, p := range opts.Packages {
		w.order[p] = i
	}
	return w, nil
}

// Ignored reports whether changes to path are dropped.
func (w *Watcher) Ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, p := range w.ignore {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// ignoredDir reports whether every file under dir is ignored.
func (w *Watcher) ignoredDir(dir string) bool {
	return w.Ignored(dir) || w.Ignored(filepath.Join(dir, "x"))
}

// PackageFor returns the package that owns path, the deepest one when
// package directories nest.
func (w *Watcher) PackageFor(path string) *models.Package {
	var best *models.Package
	for _, p := range w.pkgs {
		if path != p.Path && !strings.HasPrefix(path, p.Path+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(p.Path) > len(best.Path) {
			best = p
		}
	}
	return best
}

// Run watches the packages and calls fn once per batch of changes until
// ctx is done. Errors from fn are logged; the watch goes on.
func (w *Watcher) Run(ctx context.Context, fn Handler) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.fsw = fsw
	defer fsw.Close()

	for _, p := range w.pkgs {
		if err := w.addTree(p.Path); err != nil {
			return err
		}
	}
	w.log.Debug("watching packages", zap.Int("count", len(w.pkgs)), zap.Duration("debounce", w.debounce))

	paths := make(chan string)
	go func() {
		defer close(paths)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					w.maybeAddDir(ev.Name)
				}
				if ev.Op == fsnotify.Chmod {
					continue
				}
				select {
				case paths <- ev.Name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", zap.Error(err))
			}
		}
	}()

	return w.loop(ctx, paths, fn)
}

// loop batches paths and calls fn after each quiet period.
func (w *Watcher) loop(ctx context.Context, paths <-chan string, fn Handler) error {
	pending := make(map[*models.Package]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case path, ok := <-paths:
			if !ok {
				return nil
			}
			if w.Ignored(path) {
				continue
			}
			pkg := w.PackageFor(path)
			if pkg == nil {
				continue
			}
			w.log.Debug("change detected", zap.String("path", path), zap.String("package", pkg.Name))
			pending[pkg] = true
			timer.Reset(w.debounce)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := w.sorted(pending)
			pending = make(map[*models.Package]bool)
			if err := fn(ctx, batch); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return nil
				}
				w.log.Warn("watch run failed", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) sorted(set map[*models.Package]bool) []*models.Package {
	out := make([]*models.Package, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return w.order[out[i]] < w.order[out[j]] })
	return out
}

// addTree watches dir and every subdirectory that is not ignored.
// fsnotify watches are not recursive.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignoredDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) maybeAddDir(path string) {
	if w.PackageFor(path) == nil {
		return
	}
	if err := w.addTree(path); err != nil {
		w.log.Debug("cannot watch new path", zap.String("path", path), zap.Error(err))
	}
}
