package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/piotask/internal/integration"
)

// reloadDelay coalesces bursts of editor writes into one reload.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the configuration whenever one of its files changes, until
// ctx is cancelled. Parent directories are watched so files that do not yet
// exist are picked up when created. onError receives reload failures; the
// previous configuration stays in effect. It may be nil.
func (c *Config) Watch(ctx context.Context, onError func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}

	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, p := range c.Paths() {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		// Missing directories are not an error; the file cannot appear there
		// without the directory first being created.
		_ = w.Add(dir)
	}

	reload := integration.NewDebouncer(reloadDelay, func() {
		if err := c.Load(); err != nil && onError != nil {
			onError(err)
		}
	})

	go func() {
		defer w.Close()
		defer reload.Dispose()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if _, watched := files[filepath.Clean(ev.Name)]; !watched {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
					ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					reload.Trigger()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return nil
}
