package cmd

import (
	"fmt"

	"github.com/Iron-Ham/corral/internal/registry"
	"github.com/spf13/cobra"
)

var cleanAll bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove finished session entries",
	Long: `Remove stopped and crashed entries from the registry. Running
sessions are left alone. A stale registry lock left by a dead process
is reclaimed along the way.

With --all, every entry is removed regardless of state; use this to
reset a registry left behind by dead processes.`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Remove all entries, running ones included")
}

func runClean(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	var removed int
	if cleanAll {
		err = e.reg.WithLock(func(data *registry.Data) error {
			removed = len(data.Sessions)
			data.Sessions = make(map[string]registry.Entry)
			return nil
		})
	} else {
		removed, err = e.manager.Clean()
	}
	if err != nil {
		return fmt.Errorf("failed to clean registry: %w", err)
	}

	if removed == 0 {
		fmt.Println("No finished entries to clean")
	} else {
		fmt.Printf("Removed %d entr%s\n", removed, plural(removed, "y", "ies"))
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
