package registry

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// quietWatcherOptions disables the poll fallback and reattachment so a
// test observes only the code path under test.
func quietWatcherOptions() []WatcherOption {
	return []WatcherOption{
		WithDebounce(50 * time.Millisecond),
		WithPollInterval(time.Hour),
		WithRetryDelay(time.Hour),
	}
}

func writeFileOrFatal(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestWatcherDeliversChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	writeFileOrFatal(t, path, "{}")

	fired := make(chan struct{}, 16)
	w := NewWatcher(path, func() { fired <- struct{}{} }, quietWatcherOptions()...)
	w.Watch()
	defer w.Unwatch()

	// Give the native watch a moment to attach before writing.
	time.Sleep(50 * time.Millisecond)
	writeFileOrFatal(t, path, `{"version":1}`)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no callback after file write")
	}
}

func TestWatcherSurvivesAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	writeFileOrFatal(t, path, "{}")

	fired := make(chan struct{}, 16)
	w := NewWatcher(path, func() { fired <- struct{}{} }, quietWatcherOptions()...)
	w.Watch()
	defer w.Unwatch()

	time.Sleep(50 * time.Millisecond)

	// Save replaces the file via temp-and-rename; the watcher must see it
	// because it watches the directory, not the inode.
	r := New(path)
	if err := r.Save(DefaultData()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no callback after atomic rename write")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	writeFileOrFatal(t, path, "{}")

	var calls atomic.Int32
	w := NewWatcher(path, func() { calls.Add(1) },
		WithDebounce(100*time.Millisecond),
		WithPollInterval(time.Hour),
		WithRetryDelay(time.Hour),
	)
	w.Watch()
	defer w.Unwatch()

	time.Sleep(50 * time.Millisecond)

	const writes = 5
	for i := 0; i < writes; i++ {
		writeFileOrFatal(t, path, `{"version":1}`)
		time.Sleep(5 * time.Millisecond)
	}

	// Wait past the debounce window for the burst to settle.
	time.Sleep(400 * time.Millisecond)

	got := int(calls.Load())
	if got == 0 {
		t.Fatal("no callback after write burst")
	}
	if got >= writes {
		t.Errorf("callbacks = %d for %d writes, burst was not collapsed", got, writes)
	}
}

func TestNotifyWriteFiresImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	writeFileOrFatal(t, path, "{}")

	var calls atomic.Int32
	w := NewWatcher(path, func() { calls.Add(1) },
		WithDebounce(time.Hour), // debounce must not delay NotifyWrite
		WithPollInterval(time.Hour),
		WithRetryDelay(time.Hour),
	)
	w.Watch()
	defer w.Unwatch()

	w.NotifyWrite()
	if got := calls.Load(); got != 1 {
		t.Errorf("callbacks after NotifyWrite = %d, want 1", got)
	}
}

func TestUnwatchStopsCallbacks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	writeFileOrFatal(t, path, "{}")

	var calls atomic.Int32
	w := NewWatcher(path, func() { calls.Add(1) }, quietWatcherOptions()...)
	w.Watch()

	w.Unwatch()
	w.Unwatch() // idempotent

	w.NotifyWrite()
	writeFileOrFatal(t, path, `{"version":1}`)
	time.Sleep(200 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("callbacks after Unwatch = %d, want 0", got)
	}
}

func TestUnwatchWaitsForInFlightCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	writeFileOrFatal(t, path, "{}")

	entered := make(chan struct{})
	release := make(chan struct{})
	w := NewWatcher(path, func() {
		close(entered)
		<-release
	}, quietWatcherOptions()...)
	w.Watch()

	go w.NotifyWrite()
	<-entered

	done := make(chan struct{})
	go func() {
		w.Unwatch()
		close(done)
	}()

	// With the callback still blocked, Unwatch must not have returned.
	select {
	case <-done:
		t.Fatal("Unwatch() returned while the callback was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Unwatch() never returned after the callback finished")
	}
}

func TestWatcherPollFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	writeFileOrFatal(t, path, "{}")

	fired := make(chan struct{}, 16)
	// Zero retry budget: the native watch is abandoned as soon as it
	// breaks, leaving polling as the only delivery path.
	w := NewWatcher(path, func() { fired <- struct{}{} },
		WithDebounce(20*time.Millisecond),
		WithPollInterval(100*time.Millisecond),
		WithMaxRetries(0),
		WithRetryDelay(time.Hour),
	)
	w.Watch()
	defer w.Unwatch()

	// An mtime in the future is still "different from lastMod", so the
	// poll path alone must pick this up even if native events are lost.
	time.Sleep(50 * time.Millisecond)
	writeFileOrFatal(t, path, `{"version":1}`)
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("failed to adjust mtime: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no callback from either native watch or poll fallback")
	}
}
