// Package session manages the lifecycle of spawned interactive agent
// processes and orchestrates them against the shared registry.
//
// A Session owns exactly one OS process attached to a pseudo-terminal,
// together with the pty handle and its streams, for the session's whole
// lifetime. Its state machine is Stopped -> Running -> {Stopped, Crashed}:
// Stop drives the graceful-termination escalation (SIGTERM, then SIGKILL
// after the graceful timeout, with an unconditional final deadline so Stop
// always completes), while an unexpected exit while Running is recorded as
// Crashed with the exit code.
//
// Manager combines in-process Sessions with the cross-process registry
// view: it detects crashes of sessions started by other (possibly dead)
// processes, closes the duplicate-name race window on start, and produces
// a merged listing in which locally owned sessions are authoritative.
package session
