// Package config loads and validates corral configuration from the
// config file, environment, and defaults via viper.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete corral configuration
type Config struct {
	Registry RegistryConfig `mapstructure:"registry"`
	Session  SessionConfig  `mapstructure:"session"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Paths    PathsConfig    `mapstructure:"paths"`
}

// RegistryConfig controls the shared session registry file and its lock
type RegistryConfig struct {
	// LockRetries is how many times to retry acquiring the registry lock
	// before giving up
	LockRetries int `mapstructure:"lock_retries"`
	// LockInitialBackoffMs is the first retry delay in milliseconds;
	// subsequent delays double up to lock_max_backoff_ms
	LockInitialBackoffMs int `mapstructure:"lock_initial_backoff_ms"`
	// LockMaxBackoffMs caps the retry delay in milliseconds
	LockMaxBackoffMs int `mapstructure:"lock_max_backoff_ms"`
	// LockStalenessSeconds is the marker age after which a lock whose
	// holder cannot be confirmed alive is reclaimed
	LockStalenessSeconds int `mapstructure:"lock_staleness_seconds"`
}

// SessionConfig controls session spawn and stop behavior
type SessionConfig struct {
	// Command is the default program spawned for new sessions
	Command string `mapstructure:"command"`
	// Args are default arguments passed to the spawned program
	Args []string `mapstructure:"args"`
	// GracefulTimeoutSeconds is how long to wait after SIGTERM before
	// escalating to SIGKILL
	GracefulTimeoutSeconds int `mapstructure:"graceful_timeout_seconds"`
	// FinalMarginSeconds is added to the graceful timeout to form the
	// unconditional deadline by which a stop completes
	FinalMarginSeconds int `mapstructure:"final_margin_seconds"`
}

// WatcherConfig controls registry change detection
type WatcherConfig struct {
	// DebounceMs collapses bursts of file events into one notification
	DebounceMs int `mapstructure:"debounce_ms"`
	// PollIntervalSeconds is the mtime polling fallback cadence
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// RetryDelaySeconds is the delay between watch reattachment attempts
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
	// MaxRetries caps reattachment attempts before falling back to
	// polling only
	MaxRetries int `mapstructure:"max_retries"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// PathsConfig controls where corral stores data
type PathsConfig struct {
	// StateDir is the directory holding the registry file, its lock, and
	// the debug log. If empty, defaults to ~/.local/state/corral (or
	// $XDG_STATE_HOME/corral). Supports ~ for home directory expansion.
	StateDir string `mapstructure:"state_dir"`
}

// LockInitialBackoff returns the initial lock retry delay as a time.Duration
func (r *RegistryConfig) LockInitialBackoff() time.Duration {
	return time.Duration(r.LockInitialBackoffMs) * time.Millisecond
}

// LockMaxBackoff returns the lock retry delay cap as a time.Duration
func (r *RegistryConfig) LockMaxBackoff() time.Duration {
	return time.Duration(r.LockMaxBackoffMs) * time.Millisecond
}

// LockStaleness returns the stale-lock threshold as a time.Duration
func (r *RegistryConfig) LockStaleness() time.Duration {
	return time.Duration(r.LockStalenessSeconds) * time.Second
}

// GracefulTimeout returns the SIGTERM-to-SIGKILL delay as a time.Duration
func (s *SessionConfig) GracefulTimeout() time.Duration {
	return time.Duration(s.GracefulTimeoutSeconds) * time.Second
}

// FinalMargin returns the extra stop margin as a time.Duration
func (s *SessionConfig) FinalMargin() time.Duration {
	return time.Duration(s.FinalMarginSeconds) * time.Second
}

// Debounce returns the watcher debounce window as a time.Duration
func (w *WatcherConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// PollInterval returns the polling fallback cadence as a time.Duration
func (w *WatcherConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// RetryDelay returns the reattachment delay as a time.Duration
func (w *WatcherConfig) RetryDelay() time.Duration {
	return time.Duration(w.RetryDelaySeconds) * time.Second
}

// ResolveStateDir returns the resolved state directory path.
// If StateDir is empty, it follows XDG_STATE_HOME, falling back to
// ~/.local/state/corral. A leading ~ expands to the home directory.
func (p *PathsConfig) ResolveStateDir() string {
	path := p.StateDir

	if path == "" {
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, "corral")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return ".corral"
		}
		return filepath.Join(home, ".local", "state", "corral")
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return path
}

// RegistryFile returns the path to the registry file inside the state
// directory.
func (p *PathsConfig) RegistryFile() string {
	return filepath.Join(p.ResolveStateDir(), "sessions.json")
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			LockRetries:          10,
			LockInitialBackoffMs: 25,
			LockMaxBackoffMs:     500,
			LockStalenessSeconds: 30,
		},
		Session: SessionConfig{
			Command:                defaultShell(),
			Args:                   []string{},
			GracefulTimeoutSeconds: 5,
			FinalMarginSeconds:     3,
		},
		Watcher: WatcherConfig{
			DebounceMs:          100,
			PollIntervalSeconds: 30,
			RetryDelaySeconds:   1,
			MaxRetries:          5,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{
			StateDir: "", // Empty means use XDG state dir
		},
	}
}

// defaultShell picks the user's shell as the default spawn command
func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Registry defaults
	viper.SetDefault("registry.lock_retries", defaults.Registry.LockRetries)
	viper.SetDefault("registry.lock_initial_backoff_ms", defaults.Registry.LockInitialBackoffMs)
	viper.SetDefault("registry.lock_max_backoff_ms", defaults.Registry.LockMaxBackoffMs)
	viper.SetDefault("registry.lock_staleness_seconds", defaults.Registry.LockStalenessSeconds)

	// Session defaults
	viper.SetDefault("session.command", defaults.Session.Command)
	viper.SetDefault("session.args", defaults.Session.Args)
	viper.SetDefault("session.graceful_timeout_seconds", defaults.Session.GracefulTimeoutSeconds)
	viper.SetDefault("session.final_margin_seconds", defaults.Session.FinalMarginSeconds)

	// Watcher defaults
	viper.SetDefault("watcher.debounce_ms", defaults.Watcher.DebounceMs)
	viper.SetDefault("watcher.poll_interval_seconds", defaults.Watcher.PollIntervalSeconds)
	viper.SetDefault("watcher.retry_delay_seconds", defaults.Watcher.RetryDelaySeconds)
	viper.SetDefault("watcher.max_retries", defaults.Watcher.MaxRetries)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	// Paths defaults
	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "corral")
	}
	// Fall back to ~/.config/corral
	home, err := os.UserHomeDir()
	if err != nil {
		return ".corral"
	}
	return filepath.Join(home, ".config", "corral")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
