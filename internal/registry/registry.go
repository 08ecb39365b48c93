package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/corral/internal/logging"
)

// Registry is a crash-safe, concurrency-safe JSON store of session entries
// keyed by name. Construct it with an explicit file path so tests can run
// fully isolated instances side by side.
type Registry struct {
	path     string
	lockOpts LockOptions
	logger   *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLockOptions overrides the lock acquisition parameters. Tests use this
// to shrink backoff and staleness so lock contention cases run fast.
func WithLockOptions(opts LockOptions) Option {
	return func(r *Registry) {
		r.lockOpts = opts
	}
}

// WithLogger attaches a logger. The default discards all output.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Registry backed by the JSON file at path. The file is not
// created until the first write.
func New(path string, opts ...Option) *Registry {
	r := &Registry{
		path:     path,
		lockOpts: DefaultLockOptions(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the registry file path.
func (r *Registry) Path() string {
	return r.path
}

// Load reads the registry file. A missing file yields an empty default
// document; anything unparsable or structurally invalid fails with a
// *CorruptError. Load never takes the lock: writes land via atomic rename,
// so a reader sees a stale-but-complete document at worst.
func (r *Registry) Load() (*Data, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultData(), nil
		}
		return nil, fmt.Errorf("failed to read registry file %s: %w", r.path, err)
	}
	return decodeData(r.path, raw)
}

// decodeData validates the on-disk document field by field. The data is
// external and may be hand-edited or truncated, so a trusting struct decode
// is not enough: a numeric version and an object sessions map are required.
func decodeData(path string, raw []byte) (*Data, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &CorruptError{Path: path, Reason: "not a JSON object", Err: err}
	}

	versionRaw, ok := top["version"]
	if !ok {
		return nil, &CorruptError{Path: path, Reason: "missing version field"}
	}
	var version int
	if err := json.Unmarshal(versionRaw, &version); err != nil {
		return nil, &CorruptError{Path: path, Reason: "version is not numeric", Err: err}
	}

	sessionsRaw, ok := top["sessions"]
	if !ok {
		return nil, &CorruptError{Path: path, Reason: "missing sessions field"}
	}
	var sessions map[string]Entry
	if err := json.Unmarshal(sessionsRaw, &sessions); err != nil {
		return nil, &CorruptError{Path: path, Reason: "sessions is not an object", Err: err}
	}
	if sessions == nil {
		sessions = make(map[string]Entry)
	}

	return &Data{Version: version, Sessions: sessions}, nil
}

// Save writes the document atomically: marshal to a temp file in the same
// directory, then rename over the target. The rename is the atomicity
// boundary; no reader ever observes a partial write.
func (r *Registry) Save(data *Data) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := atomicWriteFile(r.path, encoded, 0644); err != nil {
		return fmt.Errorf("failed to write registry file %s: %w", r.path, err)
	}
	return nil
}

// WithLock runs mutator inside one lock-protected load-mutate-save cycle.
// The file is created with the default document if absent, the advisory
// lock is acquired with bounded retries, and the lock is released
// unconditionally afterward, including when the mutator fails. Errors
// returned by the mutator propagate unwrapped so callers can distinguish a
// rejected mutation from a coordination failure (*LockError).
func (r *Registry) WithLock(mutator func(*Data) error) error {
	if err := r.ensureExists(); err != nil {
		return err
	}

	lock, err := acquireLock(r.path+".lock", r.lockOpts, r.logger)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			r.logger.Warn("failed to release registry lock",
				"path", r.path,
				"error", relErr.Error())
		}
	}()

	data, err := r.Load()
	if err != nil {
		return err
	}
	if err := mutator(data); err != nil {
		return err
	}
	return r.Save(data)
}

// AddEntry inserts a new entry under the lock. Fails with ErrDuplicateEntry
// if the name is already present.
func (r *Registry) AddEntry(entry Entry) error {
	return r.WithLock(func(data *Data) error {
		if _, exists := data.Sessions[entry.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.Name)
		}
		data.Sessions[entry.Name] = entry
		return nil
	})
}

// UpdateEntry replaces an entry under the lock, inserting it if absent.
func (r *Registry) UpdateEntry(entry Entry) error {
	return r.WithLock(func(data *Data) error {
		data.Sessions[entry.Name] = entry
		return nil
	})
}

// RemoveEntry deletes an entry under the lock. Fails with ErrEntryNotFound
// if the name is not present.
func (r *Registry) RemoveEntry(name string) error {
	return r.WithLock(func(data *Data) error {
		if _, exists := data.Sessions[name]; !exists {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
		}
		delete(data.Sessions, name)
		return nil
	})
}

// ensureExists creates the registry file with the default document if it
// does not exist yet, so the lock has a stable sibling path to anchor to.
func (r *Registry) ensureExists() error {
	if _, err := os.Stat(r.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat registry file %s: %w", r.path, err)
	}
	return r.Save(DefaultData())
}

// atomicWriteFile writes data to a temporary file in the target's directory
// and renames it into place.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
