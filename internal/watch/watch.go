// Package watch triggers a callback when company folders appear, vanish or
// gain their entry page under the site root.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts such as a folder copy into one callback.
const DefaultDebounce = 500 * time.Millisecond

// Config holds watcher configuration options.
type Config struct {
	Root     string
	Debounce time.Duration
	// Ignore reports top-level names that never trigger a callback
	Ignore func(name string) bool
}

// Watcher monitors the site root and its immediate subfolders.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
	ignore    func(string) bool
}

// New creates a watcher on cfg.Root. Nothing is delivered until Run.
func New(cfg Config) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Ignore == nil {
		cfg.Ignore = func(string) bool { return false }
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fsWatcher: fsw,
		root:      filepath.Clean(cfg.Root),
		debounce:  cfg.Debounce,
		ignore:    cfg.Ignore,
	}
	if err := w.addTree(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches the root plus every visible subfolder so an entry page
// written after its folder still counts
func (w *Watcher) addTree() error {
	if err := w.fsWatcher.Add(w.root); err != nil {
		return fmt.Errorf("watching directory %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("reading %s: %w", w.root, err)
	}
	for _, e := range entries {
		if e.IsDir() && !w.skip(e.Name()) {
			w.addDir(filepath.Join(w.root, e.Name()))
		}
	}
	return nil
}

func (w *Watcher) addDir(dir string) {
	if err := w.fsWatcher.Add(dir); err != nil {
		log.Printf("[WARN] watch: cannot watch %s: %v", dir, err)
	}
}

func (w *Watcher) skip(name string) bool {
	return strings.HasPrefix(name, ".") || w.ignore(name)
}

// topLevel returns the root-relative first path element of an event, or ""
// when the event is outside the watched tree
func (w *Watcher) topLevel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first
}

// isRelevantEvent checks if the event should trigger a rebuild.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	name := w.topLevel(event.Name)
	if name == "" || w.skip(name) {
		return false
	}
	if filepath.Dir(event.Name) == w.root {
		// folder added, removed or renamed
		return event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
	}
	// inside a folder only the entry page decides membership
	return filepath.Base(event.Name) == "index.html" &&
		event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

// Run delivers debounced change notifications to onChange until ctx is
// done. onChange runs on the Run goroutine; events arriving meanwhile are
// folded into the next call.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	defer w.fsWatcher.Close()

	var (
		timer   *time.Timer
		pending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var fire <-chan time.Time
		if timer != nil {
			fire = timer.C
		}

		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 && filepath.Dir(event.Name) == w.root {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() && !w.skip(filepath.Base(event.Name)) {
					w.addDir(event.Name)
				}
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			log.Printf("[DEBUG] watch: %s %s", event.Op, event.Name)

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-fire:
			timer = nil
			if pending {
				pending = false
				onChange(ctx)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] watch: %v", err)

		case <-ctx.Done():
			return nil
		}
	}
}
