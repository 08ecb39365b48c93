package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/corral/internal/logging"
	"github.com/Iron-Ham/corral/internal/registry"
	"golang.org/x/sys/unix"
)

// Errors returned by Manager operations.
var (
	// ErrSessionExists is returned when starting a session whose name is
	// already taken, in this process or in the registry.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned when the named session is neither
	// owned by this process nor present in the registry.
	ErrSessionNotFound = errors.New("session not found")
)

// Manager orchestrates Sessions and the shared registry. It holds two
// views: the Sessions this process owns, and a mirror of registry entries
// covering sessions started by any process. Owned sessions are always
// authoritative over their registry projection.
type Manager struct {
	reg    *registry.Registry
	logger *logging.Logger

	sessionOpts []Option

	mu       sync.Mutex
	sessions map[string]*Session
	entries  map[string]registry.Entry
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger attaches a logger. The default discards all output.
func WithManagerLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionOptions sets the options applied to every session the manager
// starts (timeouts, logging).
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.sessionOpts = opts
	}
}

// NewManager creates a manager over the given registry. Call Init before
// use to reconcile entries left behind by crashed processes.
func NewManager(reg *registry.Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		reg:      reg,
		logger:   logging.NopLogger(),
		sessions: make(map[string]*Session),
		entries:  make(map[string]registry.Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads the registry and reconciles it against reality: every entry
// claiming to be running with a real pid is probed, and dead ones are
// rewritten to crashed and persisted immediately. Entries with pid 0 have
// no persistent backing process and are exempt.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.reg.Load()
	if err != nil {
		return err
	}

	var dead []string
	for name, entry := range data.Sessions {
		if entryNeedsCrashRewrite(entry) {
			dead = append(dead, name)
		}
	}

	if len(dead) > 0 {
		if err := m.rewriteCrashed(dead); err != nil {
			return err
		}
		// Reload so the mirror reflects what was persisted.
		if data, err = m.reg.Load(); err != nil {
			return err
		}
	}

	m.entries = data.Sessions
	m.logger.Info("session manager initialized",
		"entries", len(data.Sessions),
		"crashed_rewritten", len(dead))
	return nil
}

// rewriteCrashed flips the named entries to crashed under the lock,
// re-checking each one so a concurrent restart is not clobbered.
func (m *Manager) rewriteCrashed(names []string) error {
	return m.reg.WithLock(func(data *registry.Data) error {
		for _, name := range names {
			entry, ok := data.Sessions[name]
			if !ok || !entryNeedsCrashRewrite(entry) {
				continue
			}
			entry.State = registry.StateCrashed
			data.Sessions[name] = entry
			m.logger.Warn("marked dead session as crashed",
				"session", name,
				"pid", entry.PID)
		}
		return nil
	})
}

// entryNeedsCrashRewrite reports whether a registry entry claims a running
// process that no longer exists.
func entryNeedsCrashRewrite(entry registry.Entry) bool {
	return entry.State == registry.StateRunning && entry.PID > 0 && !processAlive(entry.PID)
}

// StartSession spawns a new session and durably records it. The name must
// be free both in this process and in a freshly reloaded registry, which
// closes the race window against other processes; the registry entry is
// re-checked once more inside the lock. If persisting the entry fails, the
// just-spawned process is stopped before the error propagates, so no
// orphan is left running.
func (m *Manager) StartSession(ctx context.Context, cfg Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.Name == "" {
		return nil, errors.New("session name is required")
	}
	if _, owned := m.sessions[cfg.Name]; owned {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, cfg.Name)
	}
	data, err := m.reg.Load()
	if err != nil {
		return nil, err
	}
	if _, taken := data.Sessions[cfg.Name]; taken {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, cfg.Name)
	}

	return m.startLocked(ctx, cfg)
}

// startLocked spawns and registers a session. Callers hold m.mu.
func (m *Manager) startLocked(ctx context.Context, cfg Config) (*Session, error) {
	sess := New(cfg, m.sessionOpts...)
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}

	entry := entryFromInfo(sess.Info())
	err := m.reg.WithLock(func(data *registry.Data) error {
		if _, taken := data.Sessions[cfg.Name]; taken {
			return fmt.Errorf("%w: %s", ErrSessionExists, cfg.Name)
		}
		data.Sessions[cfg.Name] = entry
		return nil
	})
	if err != nil {
		// Tear the fresh process down rather than leave an unrecorded
		// orphan running.
		if stopErr := sess.Stop(); stopErr != nil {
			m.logger.Error("failed to stop session after registry failure",
				"session", cfg.Name,
				"error", stopErr.Error())
		}
		return nil, err
	}

	m.sessions[cfg.Name] = sess
	m.logger.Info("session registered", "session", cfg.Name, "pid", entry.PID)
	return sess, nil
}

// StopSession stops the named session and removes its registry entry. A
// session owned by this process is stopped through its state machine; one
// known only from the registry gets a best-effort SIGTERM to its recorded
// pid (it may already be gone) and its entry is removed regardless.
func (m *Manager) StopSession(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(name)
}

func (m *Manager) stopLocked(name string) error {
	if sess, owned := m.sessions[name]; owned {
		stopErr := sess.Stop()
		if err := m.removeEntry(name); err != nil {
			return err
		}
		delete(m.sessions, name)
		return stopErr
	}

	entry, known := m.entries[name]
	if !known {
		// The mirror may be stale; check the file before giving up.
		data, err := m.reg.Load()
		if err != nil {
			return err
		}
		if entry, known = data.Sessions[name]; !known {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
		}
	}

	if entry.PID > 0 {
		// Signal delivery is idempotent; a racing stop from another
		// process is harmless.
		_ = unix.Kill(entry.PID, unix.SIGTERM)
	}
	if err := m.removeEntry(name); err != nil {
		return err
	}
	delete(m.entries, name)
	m.logger.Info("foreign session stopped", "session", name, "pid", entry.PID)
	return nil
}

// removeEntry deletes a registry entry, tolerating it already being gone.
func (m *Manager) removeEntry(name string) error {
	return m.reg.WithLock(func(data *registry.Data) error {
		delete(data.Sessions, name)
		return nil
	})
}

// StopAll stops every session this process owns, then clears any remaining
// registry-only entries.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, sess := range m.sessions {
		if err := sess.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
		delete(m.sessions, name)
	}

	if err := m.reg.WithLock(func(data *registry.Data) error {
		data.Sessions = make(map[string]registry.Entry)
		return nil
	}); err != nil {
		errs = append(errs, err)
	}
	m.entries = make(map[string]registry.Entry)

	return errors.Join(errs...)
}

// AdoptSession converts a registry-only entry into a session owned by this
// process. There is no handoff-able process handle to attach to, so
// adoption is destructive: the foreign entry is removed (its pid signalled
// best-effort) and a fresh session is started under the same name with the
// given config.
func (m *Manager) AdoptSession(ctx context.Context, cfg Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, owned := m.sessions[cfg.Name]; owned {
		return nil, fmt.Errorf("%w: %s is already owned by this process", ErrSessionExists, cfg.Name)
	}

	entry, known := m.entries[cfg.Name]
	if !known {
		data, err := m.reg.Load()
		if err != nil {
			return nil, err
		}
		if entry, known = data.Sessions[cfg.Name]; !known {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, cfg.Name)
		}
	}

	if entry.PID > 0 && processAlive(entry.PID) {
		_ = unix.Kill(entry.PID, unix.SIGTERM)
	}
	if err := m.removeEntry(cfg.Name); err != nil {
		return nil, err
	}
	delete(m.entries, cfg.Name)

	m.logger.Info("adopting session", "session", cfg.Name, "previous_pid", entry.PID)
	return m.startLocked(ctx, cfg)
}

// GetSessionInfo returns a snapshot for the named session. Owned sessions
// take precedence over their registry projection.
func (m *Manager) GetSessionInfo(name string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, owned := m.sessions[name]; owned {
		return sess.Info(), nil
	}
	if entry, known := m.entries[name]; known {
		return infoFromEntry(entry), nil
	}
	return Info{}, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
}

// ListSessions returns snapshots of every known session, sorted by name.
// Owned sessions are authoritative; registry-only entries fill in the
// remaining names. No name appears twice.
func (m *Manager) ListSessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.sessions)+len(m.entries))
	for _, sess := range m.sessions {
		infos = append(infos, sess.Info())
	}
	for name, entry := range m.entries {
		if _, owned := m.sessions[name]; owned {
			continue
		}
		infos = append(infos, infoFromEntry(entry))
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// RefreshRegistry re-reads the registry file, merges newly visible entries
// (applying the same liveness check as Init), and prunes mirrored entries
// that are no longer on disk. Sessions owned by this process are never
// touched.
func (m *Manager) RefreshRegistry() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.reg.Load()
	if err != nil {
		return err
	}

	var dead []string
	fresh := make(map[string]registry.Entry, len(data.Sessions))
	for name, entry := range data.Sessions {
		if _, owned := m.sessions[name]; owned {
			continue
		}
		if entryNeedsCrashRewrite(entry) {
			entry.State = registry.StateCrashed
			dead = append(dead, name)
		}
		fresh[name] = entry
	}

	if len(dead) > 0 {
		if err := m.rewriteCrashed(dead); err != nil {
			return err
		}
	}

	m.entries = fresh
	return nil
}

// Clean removes stopped and crashed entries from the registry, returning
// how many were removed. Running entries and sessions owned by this
// process are left alone.
func (m *Manager) Clean() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	err := m.reg.WithLock(func(data *registry.Data) error {
		removed = 0
		for name, entry := range data.Sessions {
			if _, owned := m.sessions[name]; owned {
				continue
			}
			if entry.State != registry.StateRunning {
				delete(data.Sessions, name)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for name, entry := range m.entries {
		if entry.State != registry.StateRunning {
			delete(m.entries, name)
		}
	}
	return removed, nil
}

// Session returns the owned session with the given name, if any.
func (m *Manager) Session(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	return sess, ok
}

// entryFromInfo projects a session snapshot into its durable registry form.
func entryFromInfo(info Info) registry.Entry {
	return registry.Entry{
		Name:             info.Name,
		PID:              info.PID,
		State:            info.State.String(),
		StartedAt:        info.StartedAt.Format(time.RFC3339),
		WorkingDirectory: info.WorkDir,
		ExitCode:         info.ExitCode,
	}
}

// infoFromEntry reconstructs a snapshot from a registry entry.
func infoFromEntry(entry registry.Entry) Info {
	return Info{
		Name:      entry.Name,
		PID:       entry.PID,
		State:     stateFromString(entry.State),
		StartedAt: entry.StartedTime(),
		WorkDir:   entry.WorkingDirectory,
		ExitCode:  entry.ExitCode,
	}
}

func stateFromString(s string) State {
	switch s {
	case registry.StateRunning:
		return StateRunning
	case registry.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}
