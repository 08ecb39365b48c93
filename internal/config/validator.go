package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "registry.lock_retries")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateRegistry()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateWatcher()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePaths()...)

	return errors
}

// validateRegistry validates the RegistryConfig
func (c *Config) validateRegistry() []ValidationError {
	var errors []ValidationError

	const maxLockRetries = 100
	if c.Registry.LockRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "registry.lock_retries",
			Value:   c.Registry.LockRetries,
			Message: "must be at least 1",
		})
	}
	if c.Registry.LockRetries > maxLockRetries {
		errors = append(errors, ValidationError{
			Field:   "registry.lock_retries",
			Value:   c.Registry.LockRetries,
			Message: fmt.Sprintf("exceeds maximum of %d", maxLockRetries),
		})
	}

	if c.Registry.LockInitialBackoffMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "registry.lock_initial_backoff_ms",
			Value:   c.Registry.LockInitialBackoffMs,
			Message: "must be at least 1ms",
		})
	}
	if c.Registry.LockMaxBackoffMs < c.Registry.LockInitialBackoffMs {
		errors = append(errors, ValidationError{
			Field:   "registry.lock_max_backoff_ms",
			Value:   c.Registry.LockMaxBackoffMs,
			Message: "must be at least lock_initial_backoff_ms",
		})
	}

	if c.Registry.LockStalenessSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "registry.lock_staleness_seconds",
			Value:   c.Registry.LockStalenessSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.Command == "" {
		errors = append(errors, ValidationError{
			Field:   "session.command",
			Value:   c.Session.Command,
			Message: "cannot be empty",
		})
	}

	// Timeouts must be positive; a zero graceful timeout would SIGKILL
	// immediately and a zero margin could hang a stop forever
	if c.Session.GracefulTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.graceful_timeout_seconds",
			Value:   c.Session.GracefulTimeoutSeconds,
			Message: "must be at least 1 second",
		})
	}
	if c.Session.FinalMarginSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.final_margin_seconds",
			Value:   c.Session.FinalMarginSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errors
}

// validateWatcher validates the WatcherConfig
func (c *Config) validateWatcher() []ValidationError {
	var errors []ValidationError

	const minDebounce = 10   // 10ms minimum
	const maxDebounce = 5000 // 5 seconds maximum
	if c.Watcher.DebounceMs < minDebounce {
		errors = append(errors, ValidationError{
			Field:   "watcher.debounce_ms",
			Value:   c.Watcher.DebounceMs,
			Message: fmt.Sprintf("must be at least %dms", minDebounce),
		})
	}
	if c.Watcher.DebounceMs > maxDebounce {
		errors = append(errors, ValidationError{
			Field:   "watcher.debounce_ms",
			Value:   c.Watcher.DebounceMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxDebounce),
		})
	}

	if c.Watcher.PollIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "watcher.poll_interval_seconds",
			Value:   c.Watcher.PollIntervalSeconds,
			Message: "must be at least 1 second",
		})
	}

	if c.Watcher.RetryDelaySeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "watcher.retry_delay_seconds",
			Value:   c.Watcher.RetryDelaySeconds,
			Message: "must be at least 1 second",
		})
	}

	if c.Watcher.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "watcher.max_retries",
			Value:   c.Watcher.MaxRetries,
			Message: "must be non-negative (0 disables reattachment)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	if c.Paths.StateDir != "" {
		path := c.Paths.StateDir

		// Check for null bytes which are invalid in paths
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   "paths.state_dir",
				Value:   path,
				Message: "path contains invalid null character",
			})
		}

		// Reasonable path length limit (most filesystems have limits around 4096)
		const maxPathLength = 4096
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   "paths.state_dir",
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}
