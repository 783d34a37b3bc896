package monitor

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/wander/internal/models"
)

var (
	// Base colors
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)

	// Sync status badges
	statusStyles = map[models.SyncStatus]lipgloss.Style{
		models.SyncPending: lipgloss.NewStyle().Foreground(warningColor),
		models.SyncSyncing: lipgloss.NewStyle().Foreground(secondaryColor),
		models.SyncSynced:  lipgloss.NewStyle().Foreground(successColor),
		models.SyncFailed:  lipgloss.NewStyle().Foreground(errorColor),
	}

	statusSymbols = map[models.SyncStatus]string{
		models.SyncPending: "○",
		models.SyncSyncing: "↑",
		models.SyncSynced:  "✓",
		models.SyncFailed:  "✗",
	}

	// Upload state badges
	uploadStyles = map[models.UploadState]lipgloss.Style{
		models.UploadQueued: lipgloss.NewStyle().Foreground(warningColor),
		models.UploadDone:   lipgloss.NewStyle().Foreground(successColor),
		models.UploadDead:   lipgloss.NewStyle().Foreground(errorColor),
	}
)

// formatStatus renders a sync status badge with color
func formatStatus(s models.SyncStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("%s %s", statusSymbols[s], s))
}

// formatUploadState renders an upload state badge with color
func formatUploadState(s models.UploadState) string {
	style, ok := uploadStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// formatIn renders a compact countdown like "12s" or "4m" for a future time.
func formatIn(t time.Time) string {
	d := time.Until(t)
	if d <= 0 {
		return "now"
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds())+1)
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes())+1)
	default:
		return fmt.Sprintf("%dh", int(d.Hours())+1)
	}
}

// formatAge renders a compact relative age like "3m" or "2h".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
