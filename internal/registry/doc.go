// Package registry implements the durable, cross-process session registry:
// a single JSON file shared by every corral invocation, written atomically
// via rename and mutated under an advisory file lock.
//
// The registry is the only shared mutable state between corral processes.
// There is no coordinating daemon: each CLI invocation loads the file,
// mutates it inside WithLock, and writes it back. Readers never take the
// lock; atomic-rename writes guarantee they see a stale-but-complete
// document at worst.
//
// Watcher provides low-latency change notification for long-running
// consumers such as the dashboard, layering a debounced fsnotify feed over
// a coarse modification-time poll so that a broken native watch only
// degrades latency, never correctness.
package registry
