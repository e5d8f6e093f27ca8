package routes

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/portcullis/pkg/observability"
)

// Watcher hot-reloads a route table file. The current table is swapped
// atomically; a reload that fails to parse or validate keeps the previous
// table in place, so a bad edit never takes the gate down.
type Watcher struct {
	path     string
	logger   *observability.Logger
	onReload func(*Table)

	current atomic.Pointer[Table]
}

// NewWatcher loads the table once and prepares the watcher. onReload is
// called with every successfully loaded table, including the initial one.
func NewWatcher(path string, logger *observability.Logger, onReload func(*Table)) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		logger:   logger.WithField("route_table", path),
		onReload: onReload,
	}
	table, err := Load(path)
	if err != nil {
		return nil, err
	}
	w.swap(table)
	return w, nil
}

// Table returns the currently active route table.
func (w *Watcher) Table() *Table {
	return w.current.Load()
}

// Run watches the table file until the context is canceled. The parent
// directory is watched rather than the file itself because editors and
// config-management tools replace the file wholesale.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.logger.Info("watching route table for changes")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("route table watcher error")
		}
	}
}

func (w *Watcher) reload() {
	table, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Error("route table reload failed, keeping previous table")
		return
	}
	w.swap(table)
	w.logger.WithField("routes", len(table.Routes)).Info("route table reloaded")
}

func (w *Watcher) swap(table *Table) {
	w.current.Store(table)
	if w.onReload != nil {
		w.onReload(table)
	}
}
