package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopAll bool

var stopCmd = &cobra.Command{
	Use:   "stop [name]",
	Short: "Stop a session",
	Long: `Stop the named session and remove it from the registry. Sessions
started by other corral processes are signalled by pid.

With --all, every known session is stopped and the registry is cleared.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().BoolVar(&stopAll, "all", false, "Stop all sessions")
}

func runStop(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if stopAll {
		if len(args) > 0 {
			return fmt.Errorf("cannot combine --all with a session name")
		}
		if err := e.manager.StopAll(); err != nil {
			return fmt.Errorf("failed to stop all sessions: %w", err)
		}
		fmt.Println("All sessions stopped")
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("session name is required (or use --all)")
	}
	name := args[0]

	if err := e.manager.StopSession(name); err != nil {
		return err
	}
	fmt.Printf("Session %s stopped\n", name)
	return nil
}
