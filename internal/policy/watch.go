package policy

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds a live-reloadable Policy backed by a file on disk.
// Hot-reload is grounded on rcourtman-Pulse's use of fsnotify for
// config watching: a single watcher goroutine listening for Write/
// Create events and atomically swapping in a freshly parsed Policy.
//
// Per Design Notes (Open Question 2): a prompt already at ROUTED or
// later is evaluated under the policy snapshot captured when the
// router called Current() at routing time; only prompts not yet
// routed observe a reload. Watcher itself has no opinion about this —
// it just guarantees Current() always returns the latest successfully
// parsed Policy — the router is responsible for capturing a reference
// once per prompt rather than calling Current() again mid-flight.
type Watcher struct {
	path string

	mu      sync.RWMutex
	current *Policy

	watcher *fsnotify.Watcher
	onError func(error)

	closed atomic.Bool
}

// NewWatcher loads path once synchronously, then starts a background
// goroutine that reloads on every write/create event for that file.
func NewWatcher(path string, onError func(error)) (*Watcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	pol, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy: initial parse of %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy: new fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("policy: watch %s: %w", path, err)
	}

	if onError == nil {
		onError = func(error) {}
	}

	w := &Watcher{path: path, current: pol, watcher: fsw, onError: onError}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("policy: watch error: %w", err))
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.onError(fmt.Errorf("policy: reload read %s: %w", w.path, err))
		return
	}
	pol, err := Parse(data)
	if err != nil {
		w.onError(fmt.Errorf("policy: reload parse %s: %w", w.path, err))
		return
	}
	w.mu.Lock()
	w.current = pol
	w.mu.Unlock()
}

// Current returns the most recently, successfully parsed Policy. A
// reload that fails to parse leaves the previous Policy in place.
func (w *Watcher) Current() *Policy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the background watcher.
func (w *Watcher) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		return w.watcher.Close()
	}
	return nil
}
