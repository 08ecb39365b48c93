package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Iron-Ham/corral/internal/registry"
	"github.com/Iron-Ham/corral/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var startCmd = &cobra.Command{
	Use:   "start <name> [-- command [args...]]",
	Short: "Start a new session",
	Long: `Start a named session running the configured command (or the command
given after --) in a pseudo-terminal, register it, and attach the
current terminal to it. The session ends when the process exits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	name, argv := splitSpawnArgs(cmd, args)
	if name == "" {
		return fmt.Errorf("session name is required")
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	sess, err := e.manager.StartSession(context.Background(), session.Config{
		Name:    name,
		WorkDir: cwd,
		Target:  e.spawnTarget(argv),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Session %s started (pid %d)\n", name, sess.Info().PID)
	return runAttached(e, sess)
}

// splitSpawnArgs separates the session name from an optional spawn
// command given after "--".
func splitSpawnArgs(cmd *cobra.Command, args []string) (string, []string) {
	at := cmd.ArgsLenAtDash()
	if at < 0 {
		at = len(args)
	}
	name := ""
	if at > 0 {
		name = args[0]
	}
	return name, args[at:]
}

// runAttached connects the current terminal to the session: stdin is
// forwarded raw to the pty, pty output streams to stdout, and terminal
// resizes propagate via SIGWINCH. Returns after the process exits, once
// the registry reflects the final state.
func runAttached(e *env, sess *session.Session) error {
	sess.SetDataListener(func(data []byte) {
		_, _ = os.Stdout.Write(data)
	})

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("failed to set raw terminal mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, unix.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				if w, h, err := term.GetSize(stdinFd); err == nil {
					_ = sess.Resize(uint16(w), uint16(h))
				}
			}
		}()
		winch <- unix.SIGWINCH
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				handle := sess.Handle()
				if handle == nil {
					return
				}
				if _, err := handle.Write(buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	sess.Wait()
	return finishSession(e, sess)
}

// finishSession reconciles the registry after the attached process ends.
// A clean zero exit removes the entry; a nonzero exit leaves a crashed
// entry behind so other processes can see what happened.
func finishSession(e *env, sess *session.Session) error {
	info := sess.Info()
	name := info.Name

	if info.State == session.StateCrashed && info.ExitCode != nil && *info.ExitCode != 0 {
		entry := registry.Entry{
			Name:             name,
			PID:              info.PID,
			State:            registry.StateCrashed,
			StartedAt:        info.StartedAt.Format(time.RFC3339),
			WorkingDirectory: info.WorkDir,
			ExitCode:         info.ExitCode,
		}
		if err := e.reg.UpdateEntry(entry); err != nil {
			return fmt.Errorf("failed to record crash for %s: %w", name, err)
		}
		return fmt.Errorf("session %s exited with code %d", name, *info.ExitCode)
	}

	if err := e.manager.StopSession(name); err != nil {
		return fmt.Errorf("failed to finalize session %s: %w", name, err)
	}
	fmt.Printf("\nSession %s ended\n", name)
	return nil
}
