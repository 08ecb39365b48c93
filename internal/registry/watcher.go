package registry

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Iron-Ham/corral/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher default tuning.
const (
	// DefaultDebounce collapses bursts of writes into one callback.
	DefaultDebounce = 100 * time.Millisecond

	// DefaultPollInterval bounds worst-case latency when native
	// notification is unreliable or silently stops.
	DefaultPollInterval = 30 * time.Second

	// DefaultRetryDelay is the pause before re-establishing a broken
	// native watch.
	DefaultRetryDelay = time.Second

	// DefaultMaxRetries caps consecutive re-establishment attempts.
	// Beyond it the watcher relies solely on fallback polling.
	DefaultMaxRetries = 5
)

// Watcher observes the registry file and drives a debounced callback when
// it changes. It is independent of Registry: any long-running consumer can
// point one at the registry path.
//
// Internal failures never surface to the caller; a broken native watch is
// reattached with bounded retries and, failing that, the fixed-interval
// mtime poll still delivers changes.
type Watcher struct {
	path     string
	dir      string
	onChange func()
	logger   *logging.Logger

	debounce     time.Duration
	pollInterval time.Duration
	retryDelay   time.Duration
	maxRetries   int

	mu            sync.Mutex
	inflight      sync.WaitGroup
	fsw           *fsnotify.Watcher
	debounceTimer *time.Timer
	retryTimer    *time.Timer
	lastMod       time.Time
	retries       int
	closed        bool
	stopCh        chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithPollInterval overrides the fallback poll interval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithRetryDelay overrides the delay before reattaching a broken watch.
func WithRetryDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.retryDelay = d }
}

// WithMaxRetries overrides the reattachment attempt cap.
func WithMaxRetries(n int) WatcherOption {
	return func(w *Watcher) { w.maxRetries = n }
}

// WithWatcherLogger attaches a logger. The default discards all output.
func WithWatcherLogger(logger *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for the registry file at path. onChange is
// invoked (debounced) whenever the file changes. Call Watch to start.
func NewWatcher(path string, onChange func(), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:         path,
		dir:          filepath.Dir(path),
		onChange:     onChange,
		logger:       logging.NopLogger(),
		debounce:     DefaultDebounce,
		pollInterval: DefaultPollInterval,
		retryDelay:   DefaultRetryDelay,
		maxRetries:   DefaultMaxRetries,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts native notification and the fallback poll. A native watch
// that cannot be established is retried in the background; Watch itself
// never fails.
func (w *Watcher) Watch() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()

	w.attach()
	go w.pollLoop()
}

// attach establishes the native watch on the registry's directory.
// Watching the directory rather than the file survives the atomic-rename
// writes Registry performs: the file's inode changes on every save.
func (w *Watcher) attach() {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("failed to create file watcher, falling back to polling",
			"path", w.path,
			"error", err.Error())
		w.scheduleReattach()
		return
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		w.logger.Warn("failed to watch registry directory",
			"dir", w.dir,
			"error", err.Error())
		w.scheduleReattach()
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		fsw.Close()
		return
	}
	w.fsw = fsw
	w.retries = 0
	w.mu.Unlock()

	go w.eventLoop(fsw)
}

// eventLoop consumes native events until the watch breaks or the watcher
// is stopped.
func (w *Watcher) eventLoop(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				w.reattach(fsw)
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.bump()
			// A rename or removal of the registry file itself means the
			// directory entry we resolved may now be stale; rebuild the
			// watch to be safe.
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				w.reattach(fsw)
				return
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				w.reattach(fsw)
				return
			}
			w.logger.Warn("registry watch error, re-establishing",
				"path", w.path,
				"error", err.Error())
			w.reattach(fsw)
			return
		}
	}
}

// reattach closes the stale handle and schedules a fresh one.
func (w *Watcher) reattach(fsw *fsnotify.Watcher) {
	fsw.Close()

	w.mu.Lock()
	if w.fsw == fsw {
		w.fsw = nil
	}
	w.mu.Unlock()

	w.scheduleReattach()
}

// scheduleReattach arms the retry timer unless the retry budget is spent,
// in which case the watcher goes poll-only.
func (w *Watcher) scheduleReattach() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.retries++
	if w.retries > w.maxRetries {
		w.logger.Warn("giving up on native registry watch, polling only",
			"path", w.path,
			"retries", w.retries-1)
		return
	}
	if w.retryTimer != nil {
		w.retryTimer.Stop()
	}
	w.retryTimer = time.AfterFunc(w.retryDelay, w.attach)
}

// pollLoop compares the file's modification time on a fixed interval and
// feeds the same debounced callback, bounding worst-case latency.
func (w *Watcher) pollLoop() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := info.ModTime() != w.lastMod
			w.mu.Unlock()
			if changed {
				w.bump()
			}
		}
	}
}

// bump (re)starts the debounce timer; each change within the window pushes
// the callback out, collapsing write bursts into one firing.
func (w *Watcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.fire)
}

// fire invokes the callback once for the accumulated changes. The inflight
// count is raised under the lock so Unwatch can wait out a callback that
// already passed the closed check.
func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	cb := w.onChange
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	if cb != nil {
		cb()
	}
}

// NotifyWrite lets the local writer announce its own save. The callback
// fires immediately, bypassing debounce, so a process never waits on its
// own write's notification round trip.
func (w *Watcher) NotifyWrite() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	cb := w.onChange
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	if cb != nil {
		cb()
	}
}

// Unwatch releases the native handle, stops all timers, drops the
// callback, and waits out any callback already in flight, so none runs
// past its return. Idempotent. Must not be called from inside the
// callback itself.
func (w *Watcher) Unwatch() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.stopCh)
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	if w.retryTimer != nil {
		w.retryTimer.Stop()
		w.retryTimer = nil
	}
	fsw := w.fsw
	w.fsw = nil
	w.onChange = nil
	w.mu.Unlock()

	if fsw != nil {
		fsw.Close()
	}
	w.inflight.Wait()
}
