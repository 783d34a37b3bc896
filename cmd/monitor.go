package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/output"
	"github.com/marcus/wander/internal/syncconfig"
	"github.com/marcus/wander/internal/tui/monitor"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard for sync activity",
	Long: `Launch a live-updating dashboard showing:
- Overview: queue depth, delete intents, pull watermarks
- Queue: every record not yet confirmed by the server
- Uploads: attachment transfers and their retry state

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k            Scroll active panel
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		email := "not logged in"
		if creds, err := syncconfig.LoadAuth(); err == nil && creds != nil && creds.Email != "" {
			email = creds.Email
		}

		model := monitor.NewModel(database, currentOwner(), email, syncconfig.GetServerURL(), interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval (default 2s)")
}
