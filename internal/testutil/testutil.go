// Package testutil provides testing utilities for corral tests.
package testutil

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// RequireSh skips the test when no POSIX shell is available, since
// session tests spawn real processes through /bin/sh.
func RequireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available, skipping process spawn test")
	}
}

// SleepTarget returns a command and args that run for the given number of
// seconds and then exit 0. Useful as a long-lived session target.
func SleepTarget(seconds string) (string, []string) {
	return "sh", []string{"-c", "sleep " + seconds}
}

// ExitTarget returns a command and args that exit immediately with the
// given code.
func ExitTarget(code string) (string, []string) {
	return "sh", []string{"-c", "exit " + code}
}

// StubbornTarget returns a command and args that ignore SIGTERM and run
// for the given number of seconds, forcing stop escalation to SIGKILL.
func StubbornTarget(seconds string) (string, []string) {
	return "sh", []string{"-c", "trap '' TERM; sleep " + seconds}
}

// RegistryPath returns a registry file path inside a fresh temp dir.
func RegistryPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sessions.json")
}

// WriteRegistryFile writes raw registry JSON to path, creating parent
// directories as needed. Used to seed corrupt or hand-crafted fixtures.
func WriteRegistryFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create registry dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write registry file: %v", err)
	}
}

// WriteRegistryJSON marshals v and writes it as the registry file.
func WriteRegistryJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal registry fixture: %v", err)
	}
	WriteRegistryFile(t, path, data)
}
