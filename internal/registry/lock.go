package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Iron-Ham/corral/internal/logging"
	"golang.org/x/sys/unix"
)

// LockOptions controls advisory lock acquisition. All fields have working
// defaults; tests shrink them so contention cases complete in milliseconds.
type LockOptions struct {
	// Retries is the number of acquisition attempts before giving up.
	Retries int

	// InitialBackoff is the delay after the first failed attempt. Each
	// subsequent failure doubles the delay up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff between attempts.
	MaxBackoff time.Duration

	// Staleness is the marker age past which a lock is presumed abandoned
	// by a crashed holder and may be reclaimed.
	Staleness time.Duration
}

// DefaultLockOptions returns the production lock parameters.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Retries:        10,
		InitialBackoff: 25 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Staleness:      30 * time.Second,
	}
}

// lockInfo is the JSON body of a lock marker file. The pid lets a later
// acquirer probe whether the holder is still alive; the timestamp is
// informational (staleness is judged by the marker's mtime, which does not
// depend on clock agreement between writers).
type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// fileLock is an acquired advisory lock on a registry file.
type fileLock struct {
	path   string
	pid    int
	logger *logging.Logger
}

// acquireLock attempts to create the lock marker with O_EXCL, retrying with
// exponential backoff. A marker whose holder is dead or whose mtime exceeds
// the staleness threshold is reclaimed. Exhausting the retry budget returns
// a *LockError.
func acquireLock(path string, opts LockOptions, logger *logging.Logger) (*fileLock, error) {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	body, err := json.Marshal(lockInfo{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	backoff := opts.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > opts.MaxBackoff {
				backoff = opts.MaxBackoff
			}
		}

		// O_EXCL makes creation the atomic claim: exactly one of any
		// number of racing processes wins.
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			if _, werr := f.Write(body); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lock marker: %w", werr)
			}
			f.Close()
			return &fileLock{path: path, pid: os.Getpid(), logger: logger}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock marker %s: %w", path, err)
		}
		lastErr = fmt.Errorf("lock held: %w", err)

		if reclaimStaleLock(path, opts.Staleness, logger) {
			// Marker removed; retry immediately without burning backoff.
			attempt--
			continue
		}
	}

	return nil, &LockError{Path: path, Attempts: opts.Retries, Err: lastErr}
}

// reclaimStaleLock removes the marker if its holder is provably gone: the
// recorded pid no longer exists, or the marker's mtime is older than the
// staleness threshold. Returns true if the marker was removed.
func reclaimStaleLock(path string, staleness time.Duration, logger *logging.Logger) bool {
	info, err := os.Stat(path)
	if err != nil {
		// Marker vanished between the failed create and now; the caller
		// simply retries.
		return os.IsNotExist(err)
	}

	stale := staleness > 0 && time.Since(info.ModTime()) > staleness
	if !stale {
		holder, err := readLockInfo(path)
		if err != nil || holder.PID <= 0 {
			// Unreadable marker that is not yet past the staleness
			// threshold: leave it for the timeout to collect.
			return false
		}
		if processAlive(holder.PID) {
			return false
		}
		stale = true
	}

	if !stale {
		return false
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false
	}
	logger.Warn("reclaimed stale registry lock", "path", path)
	return true
}

func readLockInfo(path string) (*lockInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock marker: %w", err)
	}
	return &info, nil
}

// Release removes the marker if this process still owns it. Safe to call
// multiple times.
func (l *fileLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}

	holder, err := readLockInfo(l.path)
	if err != nil {
		// Marker already gone or unreadable; nothing to release.
		return nil
	}
	if holder.PID != l.pid {
		// Someone reclaimed the lock out from under us; do not remove
		// their marker.
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// processAlive reports whether pid refers to a running process. Signal 0
// checks existence without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
