package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events a single save produces.
const watchDebounce = 100 * time.Millisecond

// Watch reloads r from dir whenever a manifest file in dir is created,
// written, removed or renamed. It reloads once after the watcher is in
// place, then after every change, and calls onReload with the outcome of
// each reload. A failed reload leaves r unchanged. Watch blocks until ctx is
// done and returns nil, or returns an error if the watcher cannot start.
func Watch(ctx context.Context, dir string, r *Registry, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("manifest: watch %s: %w", dir, err)
	}

	reload := func() {
		err := r.ReloadDir(dir)
		if onReload != nil {
			onReload(err)
		}
	}
	reload()

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isManifestFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		case <-timer.C:
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onReload != nil {
				onReload(fmt.Errorf("manifest: watcher: %w", err))
			}
		}
	}
}
