package project

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigFileName is the PlatformIO project file.
const ConfigFileName = "platformio.ini"

// WatchProject requests a forced refresh whenever platformio.ini changes,
// until ctx is cancelled or the manager is disposed.
func (m *Manager) WatchProject(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating project watcher: %w", err)
	}
	// The directory is watched so editors that replace the file by rename
	// are still seen.
	if err := w.Add(m.dir); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", m.dir, err)
	}

	target := filepath.Join(m.dir, ConfigFileName)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
					ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					m.log.Debug("project file changed", "op", ev.Op.String())
					m.RequestForceRefresh()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.log.Warn("project watcher error", "error", err)
			}
		}
	}()
	return nil
}
