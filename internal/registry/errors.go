package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by registry operations.
var (
	// ErrCorrupt indicates the registry file exists but is unreadable or
	// structurally invalid. It is never silently repaired: resetting the
	// file could hide sessions owned by live external processes.
	ErrCorrupt = errors.New("registry file is corrupt")

	// ErrDuplicateEntry is returned when adding an entry whose name is
	// already present in the registry.
	ErrDuplicateEntry = errors.New("registry entry already exists")

	// ErrEntryNotFound is returned when removing an entry that does not exist.
	ErrEntryNotFound = errors.New("registry entry not found")
)

// CorruptError wraps ErrCorrupt with the file path and the reason the
// document was rejected.
type CorruptError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry file %s is corrupt: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("registry file %s is corrupt: %s", e.Path, e.Reason)
}

func (e *CorruptError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrCorrupt
}

// Is reports ErrCorrupt so callers can match with errors.Is without
// caring whether a decode error is also attached.
func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

// LockError indicates the advisory lock could not be acquired within the
// configured retry budget. It is a coordination failure, distinct from a
// rejected mutation: callers may retry later.
type LockError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("failed to acquire registry lock %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}
