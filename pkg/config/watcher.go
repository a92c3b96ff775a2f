package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the freshly parsed configuration.
type ReloadFunc func(*Config)

// Watcher reloads the config file on change and fans the new value out
// to registered callbacks. Editors often replace files rather than
// write in place, so the watcher watches the directory and filters by
// name.
type Watcher struct {
	path string

	mu        sync.Mutex
	callbacks []ReloadFunc
	lastLoad  time.Time
}

func NewWatcher(path string) *Watcher {
	return &Watcher{path: path}
}

// OnReload registers a callback invoked after every successful reload.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start watches until ctx is cancelled. Parse failures keep the
// previous configuration and log the error.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
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
					return
				}
				log.Printf("[Config] Watcher error: %v", err)
			}
		}
	}()

	log.Printf("[Config] Watching %s for changes", w.path)
	return nil
}

func (w *Watcher) reload() {
	w.mu.Lock()
	// Debounce: editors fire several events per save.
	if time.Since(w.lastLoad) < 500*time.Millisecond {
		w.mu.Unlock()
		return
	}
	w.lastLoad = time.Now()
	callbacks := make([]ReloadFunc, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	cfg, err := LoadConfigFromFile(w.path)
	if err != nil {
		log.Printf("[Config] Reload failed, keeping previous config: %v", err)
		return
	}

	log.Printf("[Config] Reloaded %s", w.path)
	for _, fn := range callbacks {
		fn(cfg)
	}
}
