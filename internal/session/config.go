package session

import (
	"time"

	"github.com/Iron-Ham/corral/internal/logging"
)

// Default stop-escalation timing.
const (
	// DefaultGracefulTimeout is how long Stop waits after SIGTERM before
	// escalating to SIGKILL.
	DefaultGracefulTimeout = 5 * time.Second

	// DefaultFinalMargin is added to the graceful timeout to form the
	// unconditional deadline by which Stop completes even if no exit
	// notification ever arrives.
	DefaultFinalMargin = 3 * time.Second
)

// SpawnTarget is the command a session runs. Callers such as a sandboxing
// layer may substitute a wrapped {command, args} pair; the session treats
// the target as opaque.
type SpawnTarget struct {
	Command string
	Args    []string
}

// Config describes one session. It is supplied by the caller and immutable
// for the session's lifetime.
type Config struct {
	// Name uniquely identifies the session across the registry.
	Name string

	// WorkDir is the working directory the process starts in.
	// Empty means the current directory.
	WorkDir string

	// Env holds additional environment entries in "KEY=value" form,
	// appended to the parent environment.
	Env []string

	// Target is the command to spawn.
	Target SpawnTarget
}

// Option configures a Session.
type Option func(*Session)

// WithGracefulTimeout overrides the SIGTERM-to-SIGKILL escalation delay.
func WithGracefulTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.gracefulTimeout = d
		}
	}
}

// WithFinalMargin overrides the extra margin after the graceful timeout
// before Stop gives up waiting for an exit notification.
func WithFinalMargin(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.finalMargin = d
		}
	}
}

// WithLogger attaches a logger. The default discards all output.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger.WithSession(s.cfg.Name)
		}
	}
}
