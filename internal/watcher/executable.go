// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher notifies perchd when an adapter's resolved executable
// changes on disk, so an operator can see a CLI upgrade land without
// restarting the broker. Adapted from the teacher's service-binary watcher,
// which restarted a managed service process on binary change; a session
// broker has no process to restart here, so this package is trimmed to the
// notifier half — detection and debounce — and the restart policy is
// dropped.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"perch/internal/events"
)

// ExecutableWatcher watches adapter executables for changes and publishes
// events.EventAdapterExecutableChanged.
type ExecutableWatcher struct {
	mu          sync.RWMutex
	bus         events.EventBus
	watcher     *fsnotify.Watcher
	debouncer   *Debouncer
	watches     map[string][]string // tool name -> watched paths
	pathToTool  map[string]string   // path -> tool name (reverse lookup)
	paths       map[string]int      // path -> watch count (for ref counting)
	lastChange  map[string]time.Time
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// NewExecutableWatcher creates a new executable watcher.
func NewExecutableWatcher(bus events.EventBus, debounce time.Duration) (*ExecutableWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &ExecutableWatcher{
		bus:        bus,
		watcher:    fsWatcher,
		debouncer:  NewDebouncer(debounce),
		watches:    make(map[string][]string),
		pathToTool: make(map[string]string),
		paths:      make(map[string]int),
		lastChange: make(map[string]time.Time),
		closeCh:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Watch starts watching paths (typically a resolved adapter executable) for
// a tool name.
func (w *ExecutableWatcher) Watch(tool string, paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	if len(paths) == 0 {
		return nil
	}

	if oldPaths, exists := w.watches[tool]; exists {
		for _, oldPath := range oldPaths {
			w.removeWatch(oldPath)
			delete(w.pathToTool, oldPath)
		}
	}

	var absPaths []string
	for _, p := range paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			absPath = p
		}

		if err := w.addWatch(absPath); err != nil {
			continue
		}

		absPaths = append(absPaths, absPath)
		w.pathToTool[absPath] = tool
	}

	if len(absPaths) > 0 {
		w.watches[tool] = absPaths
	}
	return nil
}

// Unwatch stops watching paths for a tool.
func (w *ExecutableWatcher) Unwatch(tool string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, exists := w.watches[tool]
	if !exists {
		return fmt.Errorf("tool %s not being watched", tool)
	}

	for _, path := range paths {
		w.removeWatch(path)
		delete(w.pathToTool, path)
	}
	delete(w.watches, tool)
	w.debouncer.Cancel(tool)

	return nil
}

// SetDebounce sets the debounce duration.
func (w *ExecutableWatcher) SetDebounce(d time.Duration) {
	w.debouncer.SetDuration(d)
}

// Watching returns the list of tools being watched.
func (w *ExecutableWatcher) Watching() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]string, 0, len(w.watches))
	for tool := range w.watches {
		result = append(result, tool)
	}
	return result
}

// Close stops the watcher and releases resources.
func (w *ExecutableWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	w.watcher.Close()
	w.wg.Wait()

	return nil
}

func (w *ExecutableWatcher) addWatch(path string) error {
	w.paths[path]++
	if w.paths[path] == 1 {
		if err := w.watcher.Add(path); err != nil {
			w.paths[path]--
			if w.paths[path] == 0 {
				delete(w.paths, path)
			}
			return err
		}
	}
	return nil
}

func (w *ExecutableWatcher) removeWatch(path string) {
	w.paths[path]--
	if w.paths[path] <= 0 {
		w.watcher.Remove(path)
		delete(w.paths, path)
	}
}

func (w *ExecutableWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			_ = err
		}
	}
}

func (w *ExecutableWatcher) handleEvent(event fsnotify.Event) {
	// Chmod events fire when a binary is executed; ignore them to avoid
	// reacting to every session launch.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.RLock()
	tool, exists := w.pathToTool[event.Name]
	w.mu.RUnlock()

	if exists {
		w.triggerChange(tool, event.Name)
	}
}

const changeCooldown = 5 * time.Second

func (w *ExecutableWatcher) triggerChange(tool string, changedPath string) {
	w.debouncer.Debounce(tool, func() {
		w.mu.Lock()
		last := w.lastChange[tool]
		if time.Since(last) < changeCooldown {
			w.mu.Unlock()
			return
		}
		w.lastChange[tool] = time.Now()
		w.mu.Unlock()

		info, err := os.Stat(changedPath)
		var modTime time.Time
		if err == nil {
			modTime = info.ModTime()
		}

		if w.bus != nil {
			w.bus.Publish(context.Background(), events.Event{
				Type: events.EventAdapterExecutableChanged,
				Payload: map[string]interface{}{
					"tool":       tool,
					"path":       changedPath,
					"modTime":    modTime,
					"modTimeStr": modTime.Format(time.RFC3339),
				},
			})
		}
	})
}
