package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/corral/internal/testutil"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "sessions.json"), WithLockOptions(fastLockOptions()))
}

func fastLockOptions() LockOptions {
	return LockOptions{
		Retries:        5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Staleness:      time.Minute,
	}
}

func testEntry(name string) Entry {
	code := 0
	return Entry{
		Name:             name,
		PID:              os.Getpid(),
		State:            StateRunning,
		StartedAt:        time.Now().UTC().Format(time.RFC3339),
		WorkingDirectory: "/tmp/work",
		ExitCode:         &code,
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	r := testRegistry(t)

	data, err := r.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if data.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", data.Version, CurrentVersion)
	}
	if len(data.Sessions) != 0 {
		t.Errorf("Sessions has %d entries, want 0", len(data.Sessions))
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	r := testRegistry(t)

	data := DefaultData()
	data.Sessions["alpha"] = testEntry("alpha")
	if err := r.Save(data); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := r.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	entry, ok := loaded.Sessions["alpha"]
	if !ok {
		t.Fatal("entry alpha missing after roundtrip")
	}
	if entry.PID != os.Getpid() || entry.State != StateRunning {
		t.Errorf("entry = %+v, want pid %d state %s", entry, os.Getpid(), StateRunning)
	}
	if entry.ExitCode == nil || *entry.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", entry.ExitCode)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"version": 1,`},
		{"top-level array", `[1, 2, 3]`},
		{"missing version", `{"sessions": {}}`},
		{"version not numeric", `{"version": "one", "sessions": {}}`},
		{"missing sessions", `{"version": 1}`},
		{"sessions not an object", `{"version": 1, "sessions": [1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.RegistryPath(t)
			testutil.WriteRegistryFile(t, path, []byte(tt.content))

			_, err := New(path).Load()
			if err == nil {
				t.Fatal("Load() succeeded on corrupt file")
			}
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Load() error = %v, want ErrCorrupt", err)
			}
			var corrupt *CorruptError
			if !errors.As(err, &corrupt) {
				t.Fatalf("Load() error type = %T, want *CorruptError", err)
			}
			if corrupt.Path != path {
				t.Errorf("CorruptError.Path = %q, want %q", corrupt.Path, path)
			}
		})
	}
}

func TestCorruptFileIsNeverRepaired(t *testing.T) {
	path := testutil.RegistryPath(t)
	content := []byte(`{"version": 1,`)
	testutil.WriteRegistryFile(t, path, content)

	r := New(path, WithLockOptions(fastLockOptions()))
	err := r.WithLock(func(data *Data) error {
		t.Fatal("mutator ran against corrupt registry")
		return nil
	})
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("WithLock() error = %v, want ErrCorrupt", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to re-read file: %v", err)
	}
	if string(after) != string(content) {
		t.Error("corrupt file was modified")
	}
}

func TestWithLockReleasesOnMutatorError(t *testing.T) {
	r := testRegistry(t)
	boom := errors.New("boom")

	err := r.WithLock(func(data *Data) error {
		data.Sessions["doomed"] = testEntry("doomed")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithLock() error = %v, want the mutator error", err)
	}

	// The failed mutation must not have been persisted.
	data, err := r.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, exists := data.Sessions["doomed"]; exists {
		t.Error("failed mutation was persisted")
	}

	// The lock must be free again.
	if err := r.AddEntry(testEntry("next")); err != nil {
		t.Errorf("AddEntry() after failed mutator error = %v", err)
	}
}

func TestAddEntryDuplicate(t *testing.T) {
	r := testRegistry(t)

	if err := r.AddEntry(testEntry("dup")); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	err := r.AddEntry(testEntry("dup"))
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("AddEntry() duplicate error = %v, want ErrDuplicateEntry", err)
	}
}

func TestRemoveEntry(t *testing.T) {
	r := testRegistry(t)

	if err := r.AddEntry(testEntry("gone")); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if err := r.RemoveEntry("gone"); err != nil {
		t.Fatalf("RemoveEntry() error = %v", err)
	}
	if err := r.RemoveEntry("gone"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("RemoveEntry() second call error = %v, want ErrEntryNotFound", err)
	}
}

func TestUpdateEntryInsertsAndReplaces(t *testing.T) {
	r := testRegistry(t)

	entry := testEntry("mut")
	if err := r.UpdateEntry(entry); err != nil {
		t.Fatalf("UpdateEntry() insert error = %v", err)
	}

	entry.State = StateCrashed
	if err := r.UpdateEntry(entry); err != nil {
		t.Fatalf("UpdateEntry() replace error = %v", err)
	}

	data, err := r.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := data.Sessions["mut"].State; got != StateCrashed {
		t.Errorf("State = %q, want %q", got, StateCrashed)
	}
}

func TestConcurrentAddEntries(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "sessions.json"), WithLockOptions(LockOptions{
		Retries:        50,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Staleness:      time.Minute,
	}))

	names := []string{"w1", "w2", "w3", "w4"}
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			errs[i] = r.AddEntry(testEntry(name))
		}(i, name)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("AddEntry(%s) error = %v", names[i], err)
		}
	}

	data, err := r.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(data.Sessions) != len(names) {
		t.Errorf("registry has %d entries, want %d", len(data.Sessions), len(names))
	}
	for _, name := range names {
		if _, ok := data.Sessions[name]; !ok {
			t.Errorf("entry %s missing", name)
		}
	}
}

func TestWithLockFailsWhileLockHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	r := New(path, WithLockOptions(LockOptions{
		Retries:        3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Staleness:      time.Hour, // never reclaim during the test
	}))

	// Hold the lock as a live process (ourselves) so it is neither stale
	// nor reclaimable.
	lock, err := acquireLock(path+".lock", fastLockOptions(), testLogger())
	if err != nil {
		t.Fatalf("acquireLock() error = %v", err)
	}
	defer lock.Release()

	err = r.WithLock(func(data *Data) error { return nil })
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("WithLock() error = %v, want *LockError", err)
	}
	if lockErr.Attempts != 3 {
		t.Errorf("LockError.Attempts = %d, want 3", lockErr.Attempts)
	}
}
