package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"runhub/pkg/logging"
)

// configWatcher watches the configuration file and logs when it changes.
// Most settings require a restart to apply, so the watcher only tells the
// operator that the running process and the file have diverged.
type configWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newConfigWatcher(path string) *configWatcher {
	return &configWatcher{path: path}
}

// Start begins watching the config file's directory. Watching the
// directory instead of the file survives editors that replace the file
// on save.
func (w *configWatcher) Start(ctx context.Context) error {
	if w.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher
	w.done = make(chan struct{})

	target := filepath.Clean(w.path)
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					logging.Info("ConfigWatcher", "Configuration file %s changed; restart to apply", w.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("ConfigWatcher", "Watch error: %v", err)
			}
		}
	}()
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *configWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	w.watcher.Close()
	<-w.done
	w.watcher = nil
}
