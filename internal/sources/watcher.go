// Package sources tracks the plugin source trees under the configured
// sources directory. A Watcher keeps the buildable-plugin set current via
// fsnotify so the bundle builder can answer listings without rescanning.
package sources

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher maintains the set of plugin source directories.
type Watcher struct {
	mu      sync.RWMutex
	dir     string
	plugins map[string]bool
	log     *slog.Logger

	fsw     *fsnotify.Watcher
	closeCh chan struct{}
	closed  bool
	doneWg  sync.WaitGroup
}

// NewWatcher scans dir once and then follows create/remove/rename events.
// The initial scan is authoritative even if fsnotify cannot start; in that
// case the watcher degrades to the scanned snapshot.
func NewWatcher(dir string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		dir:     dir,
		plugins: make(map[string]bool),
		log:     log,
		closeCh: make(chan struct{}),
	}
	w.rescan()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw

	w.doneWg.Add(1)
	go w.loop()
	return w, nil
}

// Plugins returns the current buildable plugin names, unsorted.
func (w *Watcher) Plugins() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.plugins))
	for name := range w.plugins {
		names = append(names, name)
	}
	return names
}

// Has reports whether a source tree exists for the plugin.
func (w *Watcher) Has(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.plugins[name]
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.doneWg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.doneWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("sources watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// Only top-level entries of the sources dir define plugins.
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}
	name := filepath.Base(event.Name)
	if name == "" || name[0] == '.' {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			w.plugins[name] = true
			w.mu.Unlock()
			w.log.Info("plugin source tree added", "plugin", name)
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		known := w.plugins[name]
		delete(w.plugins, name)
		w.mu.Unlock()
		if known {
			w.log.Info("plugin source tree removed", "plugin", name)
		}
	}
}

// rescan replaces the plugin set with a directory scan.
func (w *Watcher) rescan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn("cannot scan sources dir", "dir", w.dir, "error", err)
		}
		return
	}

	next := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && entry.Name()[0] != '.' {
			next[entry.Name()] = true
		}
	}

	w.mu.Lock()
	w.plugins = next
	w.mu.Unlock()
}
