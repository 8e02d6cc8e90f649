package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads plugins whose directories change until ctx is done.
// Changes are debounced per plugin; a new directory is loaded and a
// removed one is unloaded.
func (l *Loader) Watch(ctx context.Context) error {
	root, err := filepath.Abs(l.cfg.PluginsDir)
	if err != nil {
		return err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := watchTree(fsw, root); err != nil {
		return err
	}
	l.logger.Info("watching plugins", "dir", root, "debounce", l.cfg.Debounce)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(l.cfg.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			id := pluginOf(root, event.Name)
			if id == "" {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchTree(fsw, event.Name); err != nil {
						l.logger.Warn("failed to watch directory", "dir", event.Name, "error", err)
					}
				}
			}
			pending[id] = time.Now()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("plugin watcher error", "error", err)

		case now := <-ticker.C:
			stable := now.Add(-l.cfg.Debounce)
			for id, changed := range pending {
				if changed.Before(stable) {
					delete(pending, id)
					l.sync(ctx, id)
				}
			}
		}
	}
}

// sync brings the registry in line with the directory of id.
func (l *Loader) sync(ctx context.Context, id string) {
	info, err := os.Stat(filepath.Join(l.cfg.PluginsDir, id))
	if os.IsNotExist(err) {
		if _, ok := l.Get(id); ok {
			_ = l.Unload(id)
		}
		return
	}
	if err != nil || !info.IsDir() {
		return
	}
	if _, err := l.Reload(ctx, id); err != nil {
		l.logger.Warn("plugin reload failed", "plugin", id, "error", err)
		l.emit(Event{Type: EventError, PluginID: id, Error: err})
	}
}

// watchTree adds dir and its non-hidden subdirectories.
func watchTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// pluginOf returns the plugin id owning path, or "" for the root itself
// and hidden entries.
func pluginOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return ""
	}
	id, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if strings.HasPrefix(id, ".") {
		return ""
	}
	return id
}
