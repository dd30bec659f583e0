// Package watch reports changes to collection definition files.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long changes are collected before they are reported.
const DefaultDebounce = 500 * time.Millisecond

// Func receives the definition files changed since the last call, sorted.
type Func func(ctx context.Context, changed []string)

// Watcher watches the directories holding definition files and reports
// changes to YAML files in batches.
type Watcher struct {
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	roots    []string

	mu      sync.Mutex
	pending map[string]fsnotify.Op
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the batching delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// New watches the directories below the given paths. Paths are files,
// directories or doublestar patterns, as accepted by loader.Expand; a
// pattern is watched from its static prefix.
func New(paths []string, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		roots:    Roots(paths),
		pending:  map[string]fsnotify.Op{},
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Roots returns the distinct directories to watch for paths.
func Roots(paths []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range paths {
		dir := p
		if strings.ContainsAny(p, "*?[{") {
			dir, _ = doublestar.SplitPattern(filepath.ToSlash(p))
			dir = filepath.FromSlash(dir)
		} else if info, err := os.Stat(p); err == nil && !info.IsDir() {
			dir = filepath.Dir(p)
		}
		dir = filepath.Clean(dir)
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if base := d.Name(); strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		w.logger.Debug("Watching directory", slog.String("path", path))
		return nil
	})
}

// Run delivers batches of changes to fn until ctx is done or the watcher is
// closed.
func (w *Watcher) Run(ctx context.Context, fn Func) error {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	w.logger.Info("Watching definition files",
		slog.Any("roots", w.roots),
		slog.Duration("debounce", w.debounce))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", slog.Any("error", err))
		case <-ticker.C:
			if changed := w.flush(); len(changed) > 0 {
				fn(ctx, changed)
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				_ = w.addRecursive(path)
			}
		}
		return
	}

	w.mu.Lock()
	w.pending[path] |= event.Op
	w.mu.Unlock()
	w.logger.Debug("Definition change detected", slog.String("path", path), slog.String("op", event.Op.String()))
}

func (w *Watcher) flush() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	w.pending = map[string]fsnotify.Op{}
	sort.Strings(changed)
	return changed
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
