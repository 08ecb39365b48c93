package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/corral/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NopLogger()
}

// deadPID is outside the kernel's default pid range, so no process can
// ever hold it.
const deadPID = 1 << 30

func writeLockMarker(t *testing.T, path string, pid int) {
	t.Helper()
	body, err := json.Marshal(lockInfo{
		PID:        pid,
		Hostname:   "testhost",
		AcquiredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to marshal lock marker: %v", err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("failed to write lock marker: %v", err)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json.lock")

	lock, err := acquireLock(path, fastLockOptions(), testLogger())
	if err != nil {
		t.Fatalf("acquireLock() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock marker missing after acquire: %v", err)
	}

	holder, err := readLockInfo(path)
	if err != nil {
		t.Fatalf("readLockInfo() error = %v", err)
	}
	if holder.PID != os.Getpid() {
		t.Errorf("marker pid = %d, want %d", holder.PID, os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock marker still present after release")
	}

	// Release is idempotent.
	if err := lock.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestAcquireReclaimsDeadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json.lock")
	writeLockMarker(t, path, deadPID)

	start := time.Now()
	lock, err := acquireLock(path, fastLockOptions(), testLogger())
	if err != nil {
		t.Fatalf("acquireLock() error = %v", err)
	}
	defer lock.Release()

	// Reclaiming a dead holder should not burn the whole backoff budget.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("reclaim took %v, expected fast path", elapsed)
	}

	holder, err := readLockInfo(path)
	if err != nil {
		t.Fatalf("readLockInfo() error = %v", err)
	}
	if holder.PID != os.Getpid() {
		t.Errorf("marker pid = %d, want %d after reclaim", holder.PID, os.Getpid())
	}
}

func TestAcquireReclaimsByAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json.lock")
	// Live holder (ourselves), but the marker is far past the staleness
	// threshold, as happens when a holder hangs without exiting.
	writeLockMarker(t, path, os.Getpid())
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("failed to age lock marker: %v", err)
	}

	opts := fastLockOptions()
	opts.Staleness = 50 * time.Millisecond

	lock, err := acquireLock(path, opts, testLogger())
	if err != nil {
		t.Fatalf("acquireLock() error = %v", err)
	}
	lock.Release()
}

func TestAcquireFailsAgainstLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json.lock")
	writeLockMarker(t, path, os.Getpid())

	opts := LockOptions{
		Retries:        3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Staleness:      time.Hour,
	}
	_, err := acquireLock(path, opts, testLogger())
	if err == nil {
		t.Fatal("acquireLock() succeeded against a live holder")
	}
	lockErr, ok := err.(*LockError)
	if !ok {
		t.Fatalf("error type = %T, want *LockError", err)
	}
	if lockErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", lockErr.Attempts)
	}

	// The live holder's marker must be untouched.
	holder, err := readLockInfo(path)
	if err != nil {
		t.Fatalf("readLockInfo() error = %v", err)
	}
	if holder.PID != os.Getpid() {
		t.Errorf("marker pid = %d, holder marker was disturbed", holder.PID)
	}
}

func TestReleaseDoesNotRemoveReclaimedLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json.lock")

	lock, err := acquireLock(path, fastLockOptions(), testLogger())
	if err != nil {
		t.Fatalf("acquireLock() error = %v", err)
	}

	// Simulate another process reclaiming and re-acquiring the lock.
	writeLockMarker(t, path, deadPID)

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("Release() removed a marker owned by another process")
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("processAlive(self) = false")
	}
	if processAlive(deadPID) {
		t.Error("processAlive(deadPID) = true")
	}
	if processAlive(0) || processAlive(-1) {
		t.Error("processAlive accepted a non-positive pid")
	}
}
