// Package watch ingests ontology files dropped into a directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flynn-ai/kgbridge/internal/bridge"
	"github.com/flynn-ai/kgbridge/internal/ontology"
)

// DefaultSettle is how long a file must stay quiet before it is ingested.
const DefaultSettle = 500 * time.Millisecond

// Uploader is the part of the bridge the watcher drives.
type Uploader interface {
	Upload(ctx context.Context, path string) (*bridge.Snapshot, error)
}

// Watcher uploads allow-listed files written into one directory. Each
// file is uploaded once its writes have settled; the newest one wins.
type Watcher struct {
	dir     string
	allowed []string
	up      Uploader
	settle  time.Duration
	logger  *slog.Logger
}

// New creates a watcher for dir. settle <= 0 uses DefaultSettle.
func New(dir string, allowed []string, up Uploader, settle time.Duration, logger *slog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, allowed: allowed, up: up, settle: settle, logger: logger}
}

// Run watches until ctx is canceled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := w.open()
	if err != nil {
		return err
	}
	defer fw.Close()
	return w.loop(ctx, fw)
}

func (w *Watcher) open() (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for ontology sources", "dir", w.dir, "extensions", w.allowed)
	return fw, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) error {
	tick := time.NewTicker(w.settle / 2)
	defer tick.Stop()

	// pending maps a path to the time of its last write.
	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.accepts(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "dir", w.dir, "error", err)

		case now := <-tick.C:
			w.flush(ctx, pending, now)
		}
	}
}

// flush uploads the settled paths in write order.
func (w *Watcher) flush(ctx context.Context, pending map[string]time.Time, now time.Time) {
	type settled struct {
		path string
		at   time.Time
	}
	var ready []settled
	for path, at := range pending {
		if now.Sub(at) >= w.settle {
			ready = append(ready, settled{path, at})
			delete(pending, path)
		}
	}
	slices.SortFunc(ready, func(a, b settled) int { return a.at.Compare(b.at) })

	for _, f := range ready {
		if ctx.Err() != nil {
			return
		}
		snap, err := w.up.Upload(ctx, f.path)
		if err != nil {
			w.logger.Error("watched source failed to load", "path", f.path, "error", err)
			continue
		}
		w.logger.Info("watched source loaded", "path", f.path, "generation", snap.Generation)
	}
}

func (w *Watcher) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return ontology.CheckExtension(name, w.allowed) == nil
}
