package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/Iron-Ham/corral/internal/logging"
	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Errors returned by Session operations.
var (
	// ErrAlreadyRunning is returned when Start is called on a running session.
	ErrAlreadyRunning = errors.New("session already running")
)

// SpawnError indicates the configured process could not be started.
// It is fatal for that attempt; any partially started process is torn down
// before the error surfaces.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn session %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// State is the lifecycle state of a session.
type State int

const (
	// StateStopped is the initial and terminal state.
	StateStopped State = iota

	// StateRunning means the backing process is alive.
	StateRunning

	// StateCrashed means the process exited while the session was Running.
	StateCrashed
)

// String returns the state as persisted in the registry.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Info is a stable snapshot of a session's observable fields.
type Info struct {
	Name      string
	PID       int
	State     State
	StartedAt time.Time
	WorkDir   string
	ExitCode  *int
}

// DataListener receives chunks of pty output. Listeners observe only; they
// never mutate session state.
type DataListener func(data []byte)

// ExitListener is notified once when the backing process exits, with its
// exit code.
type ExitListener func(exitCode int)

// Session is one managed instance of a spawned interactive process. The
// session exclusively owns the process handle and its pseudo-terminal for
// its lifetime.
type Session struct {
	cfg    Config
	logger *logging.Logger

	gracefulTimeout time.Duration
	finalMargin     time.Duration

	mu        sync.RWMutex
	state     State
	pid       int
	startedAt time.Time
	exitCode  *int
	cmd       *exec.Cmd
	ptmx      *os.File
	exited    chan struct{}

	onData DataListener
	onExit ExitListener
}

// New creates a session in the Stopped state. Call Start to spawn the
// process.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:             cfg,
		logger:          logging.NopLogger(),
		gracefulTimeout: DefaultGracefulTimeout,
		finalMargin:     DefaultFinalMargin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the session's unique name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// Config returns the immutable session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// SetDataListener registers a callback for pty output chunks. Must be set
// before Start; output produced with no listener attached is discarded.
func (s *Session) SetDataListener(fn DataListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = fn
}

// SetExitListener registers a callback invoked once when the process exits.
func (s *Session) SetExitListener(fn ExitListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = fn
}

// Start spawns the configured process attached to a pseudo-terminal sized
// to the caller's terminal, in the configured working directory and
// environment. On success the session is Running with a recorded pid and
// start time; a process exit while Running transitions to Crashed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return ErrAlreadyRunning
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if s.cfg.Target.Command == "" {
		return &SpawnError{Name: s.cfg.Name, Err: errors.New("no spawn command configured")}
	}

	cmd := exec.Command(s.cfg.Target.Command, s.cfg.Target.Args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(), s.cfg.Env...)

	ptmx, err := pty.StartWithSize(cmd, callerWinsize())
	if err != nil {
		return &SpawnError{Name: s.cfg.Name, Err: err}
	}
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		ptmx.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return &SpawnError{Name: s.cfg.Name, Err: errors.New("spawn produced no valid process id")}
	}

	s.cmd = cmd
	s.ptmx = ptmx
	s.pid = cmd.Process.Pid
	s.state = StateRunning
	s.startedAt = time.Now()
	s.exitCode = nil
	s.exited = make(chan struct{})

	go s.readLoop(ptmx)
	go s.wait(cmd, s.exited)

	s.logger.Info("session started",
		"pid", s.pid,
		"command", s.cfg.Target.Command,
		"workdir", s.cfg.WorkDir)

	return nil
}

// readLoop drains the pty master, forwarding output to the data listener.
// Draining always runs, listener or not: an undrained pty fills its kernel
// buffer and blocks the child on write.
func (s *Session) readLoop(ptmx *os.File) {
	buf := make([]byte, 32*1024)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			s.mu.RLock()
			fn := s.onData
			s.mu.RUnlock()
			if fn != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				fn(chunk)
			}
		}
		if err != nil {
			// EOF, EIO after child exit, or our own Close.
			return
		}
	}
}

// wait blocks on process exit and records the outcome. An exit observed
// while the session is still Running is a crash.
func (s *Session) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	s.mu.Lock()
	crashed := s.state == StateRunning
	if crashed {
		s.state = StateCrashed
	}
	if s.exitCode == nil {
		c := code
		s.exitCode = &c
	}
	fn := s.onExit
	s.mu.Unlock()

	if crashed {
		s.logger.Warn("session process exited unexpectedly", "exit_code", code)
	}
	if fn != nil {
		fn(code)
	}
	close(exited)
}

// Stop terminates the session. It is an idempotent no-op when already
// Stopped. A dead process is cleaned up immediately. Otherwise the state
// flips to Stopped at once (observable by concurrent readers), SIGTERM is
// sent, SIGKILL follows after the graceful timeout, and an unconditional
// final deadline completes the stop even if no exit notification ever
// arrives. Both timers cancel on actual exit.
func (s *Session) Stop() error {
	s.mu.Lock()

	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateCrashed:
		// Process already gone; release the handle and keep the crash
		// record intact.
		s.mu.Unlock()
		s.closePTY()
		return nil
	}

	proc := s.cmd.Process
	alive := proc != nil && processAlive(s.pid)
	exited := s.exited
	s.state = StateStopped
	graceful := s.gracefulTimeout
	final := s.gracefulTimeout + s.finalMargin
	s.mu.Unlock()

	if !alive {
		s.closePTY()
		return nil
	}

	_ = proc.Signal(unix.SIGTERM)

	gracefulTimer := time.NewTimer(graceful)
	defer gracefulTimer.Stop()
	finalTimer := time.NewTimer(final)
	defer finalTimer.Stop()

	gracefulC := gracefulTimer.C
	for {
		select {
		case <-exited:
			s.closePTY()
			s.logger.Info("session stopped")
			return nil

		case <-gracefulC:
			s.logger.Warn("graceful stop timed out, sending SIGKILL", "pid", s.pid)
			_ = proc.Signal(unix.SIGKILL)
			gracefulC = nil

		case <-finalTimer.C:
			// No exit notification ever arrived; complete the stop
			// anyway so callers never hang.
			s.logger.Warn("no exit notification after SIGKILL, abandoning wait", "pid", s.pid)
			s.closePTY()
			return nil
		}
	}
}

// closePTY releases the pty handle, unblocking the read loop.
func (s *Session) closePTY() {
	s.mu.Lock()
	ptmx := s.ptmx
	s.ptmx = nil
	s.mu.Unlock()

	if ptmx != nil {
		ptmx.Close()
	}
}

// Info returns a stable snapshot of the session's observable fields.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exitCode *int
	if s.exitCode != nil {
		c := *s.exitCode
		exitCode = &c
	}
	return Info{
		Name:      s.cfg.Name,
		PID:       s.pid,
		State:     s.state,
		StartedAt: s.startedAt,
		WorkDir:   s.cfg.WorkDir,
		ExitCode:  exitCode,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Handle returns the live pty stream for writing input while the session
// is Running, and nil otherwise, so callers can never write to a session
// with no backing process.
func (s *Session) Handle() io.Writer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateRunning || s.ptmx == nil {
		return nil
	}
	return s.ptmx
}

// Resize adjusts the pty to the given dimensions. A no-op unless Running.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.RLock()
	ptmx := s.ptmx
	running := s.state == StateRunning
	s.mu.RUnlock()

	if !running || ptmx == nil {
		return nil
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("failed to resize pty: %w", err)
	}
	return nil
}

// Wait blocks until the backing process exits. Returns immediately if the
// session never started.
func (s *Session) Wait() {
	s.mu.RLock()
	exited := s.exited
	s.mu.RUnlock()

	if exited != nil {
		<-exited
	}
}

// callerWinsize sizes the pty to the caller's terminal, falling back to a
// generous fixed size when stdin is not a tty.
func callerWinsize() *pty.Winsize {
	if ws, err := pty.GetsizeFull(os.Stdin); err == nil && ws.Rows > 0 && ws.Cols > 0 {
		return ws
	}
	return &pty.Winsize{Cols: 200, Rows: 50}
}

// processAlive reports whether pid refers to a running process, using
// signal 0 so nothing is actually delivered.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
