package registry

import "time"

// CurrentVersion is the registry file format version written by this build.
const CurrentVersion = 1

// Session states as persisted in the registry file.
const (
	StateRunning = "running"
	StateStopped = "stopped"
	StateCrashed = "crashed"
)

// Entry is the durable projection of one session's observable state.
// It is what other corral processes (and external tools reading the file)
// see of a session owned by some process.
type Entry struct {
	Name             string `json:"name"`
	PID              int    `json:"pid"`
	State            string `json:"state"`
	StartedAt        string `json:"startedAt"`
	WorkingDirectory string `json:"workingDirectory"`
	ExitCode         *int   `json:"exitCode"`
}

// StartedTime parses the entry's RFC 3339 startedAt timestamp.
// Returns the zero time if the field is empty or malformed.
func (e Entry) StartedTime() time.Time {
	t, err := time.Parse(time.RFC3339, e.StartedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Data is the entire registry document, always read and written as one unit.
type Data struct {
	Version  int              `json:"version"`
	Sessions map[string]Entry `json:"sessions"`
}

// DefaultData returns an empty registry document at the current version.
func DefaultData() *Data {
	return &Data{
		Version:  CurrentVersion,
		Sessions: make(map[string]Entry),
	}
}
