package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Iron-Ham/corral/internal/session"
	"github.com/spf13/cobra"
)

var adoptCmd = &cobra.Command{
	Use:   "adopt <name> [-- command [args...]]",
	Short: "Take over a session from another process",
	Long: `Take over a session that was started by another corral process.

There is no way to attach to a pseudo-terminal owned by another
process, so adoption replaces the session: the previous process is
signalled to stop, its registry entry is removed, and a fresh process
is started under the same name with this terminal attached.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdopt,
}

func init() {
	rootCmd.AddCommand(adoptCmd)
}

func runAdopt(cmd *cobra.Command, args []string) error {
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

	sess, err := e.manager.AdoptSession(context.Background(), session.Config{
		Name:    name,
		WorkDir: cwd,
		Target:  e.spawnTarget(argv),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Session %s adopted (pid %d)\n", name, sess.Info().PID)
	return runAttached(e, sess)
}
