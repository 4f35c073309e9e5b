package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDebounce is how long the reloader waits after the last write.
const ReloadDebounce = 500 * time.Millisecond

// Reloadable is what the Reloader drives on file changes.
type Reloadable interface {
	ReloadPolicy() error
	ReloadGraph() error
}

// Reloader watches the policy and citation graph files and triggers a
// hot-reload of whichever changed.
type Reloader struct {
	watcher *fsnotify.Watcher
	target  Reloadable
	logger  *slog.Logger
	policy  string
	graph   string
}

// NewReloader creates a file watcher for the given paths. Paths that are
// empty or missing are not watched. The parent directory is watched rather
// than the file itself, so a save that replaces the file by rename keeps
// triggering reloads.
func NewReloader(target Reloadable, policyPath, graphPath string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{watcher: watcher, target: target, logger: logger}
	dirs := map[string]bool{}
	for _, p := range []struct {
		path string
		dst  *string
	}{{policyPath, &r.policy}, {graphPath, &r.graph}} {
		if p.path == "" {
			continue
		}
		if _, err := os.Stat(p.path); err != nil {
			continue
		}
		path := filepath.Clean(p.path)
		if dir := filepath.Dir(path); !dirs[dir] {
			if err := watcher.Add(dir); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
			}
			dirs[dir] = true
		}
		*p.dst = path
	}
	return r, nil
}

// Watching returns the paths under watch.
func (r *Reloader) Watching() []string {
	var out []string
	for _, p := range []string{r.policy, r.graph} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var (
		mu      sync.Mutex
		timers  = map[string]*time.Timer{}
		reloads = map[string]func() error{}
	)
	if r.policy != "" {
		reloads[r.policy] = r.target.ReloadPolicy
	}
	if r.graph != "" {
		reloads[r.graph] = r.target.ReloadGraph
	}
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Events arrive for every file in the watched directories.
			name := filepath.Clean(event.Name)
			reload, watched := reloads[name]
			if !watched {
				continue
			}
			mu.Lock()
			if t := timers[name]; t != nil {
				t.Stop()
			}
			timers[name] = time.AfterFunc(ReloadDebounce, func() {
				if err := reload(); err != nil {
					r.logger.Error("hot-reload failed", "path", name, "error", err)
					return
				}
				r.logger.Info("hot-reload complete", "path", name)
			})
			mu.Unlock()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)
		}
	}
}
