package cmd

import (
	"github.com/Iron-Ham/corral/internal/registry"
	"github.com/Iron-Ham/corral/internal/tui"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live view of all sessions",
	Long: `Open a live dashboard of every session in the registry. The view
updates as other corral processes start and stop sessions, using file
watching with a polling fallback.`,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	// Coalesce watcher callbacks into a channel the TUI can select on;
	// a full buffer means a refresh is already pending.
	changes := make(chan struct{}, 1)
	watcher := registry.NewWatcher(e.cfg.Paths.RegistryFile(), func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	},
		registry.WithDebounce(e.cfg.Watcher.Debounce()),
		registry.WithPollInterval(e.cfg.Watcher.PollInterval()),
		registry.WithRetryDelay(e.cfg.Watcher.RetryDelay()),
		registry.WithMaxRetries(e.cfg.Watcher.MaxRetries),
		registry.WithWatcherLogger(e.logger.WithComponent("watcher")),
	)
	watcher.Watch()
	defer func() {
		watcher.Unwatch()
		close(changes)
	}()

	return tui.Run(e.manager, changes)
}
