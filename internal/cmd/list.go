package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/corral/internal/session"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Long: `List every session known to the registry, including ones started by
other corral processes. Entries whose process has died are shown as
crashed.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	infos := e.manager.ListSessions()

	fmt.Println(strings.Repeat("─", 70))
	fmt.Println("Corral Sessions")
	fmt.Println(strings.Repeat("─", 70))

	if len(infos) == 0 {
		fmt.Println("\nNo sessions found.")
		fmt.Println("Run 'corral start <name>' to create one.")
		return nil
	}

	fmt.Printf("\nFound %d session(s):\n\n", len(infos))
	for _, info := range infos {
		fmt.Printf("  Session: %s\n", info.Name)
		fmt.Printf("    State:   %s%s\n", info.State, exitSuffix(info))
		fmt.Printf("    PID:     %d\n", info.PID)
		if !info.StartedAt.IsZero() {
			fmt.Printf("    Started: %s\n", info.StartedAt.Format(time.RFC822))
		}
		if info.WorkDir != "" {
			fmt.Printf("    Workdir: %s\n", info.WorkDir)
		}
		fmt.Println()
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Println("\nTo stop a session: corral stop <name>")
	fmt.Println("To remove finished entries: corral clean")
	return nil
}

func exitSuffix(info session.Info) string {
	if info.State == session.StateCrashed && info.ExitCode != nil {
		return fmt.Sprintf(" (exit code %d)", *info.ExitCode)
	}
	return ""
}
