// Package output provides styled terminal output helpers (success, error,
// warning, record formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/wander/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	ratingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	syncStyles   = map[models.SyncStatus]lipgloss.Style{
		models.SyncPending: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.SyncSyncing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SyncFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// OutputMode determines output format
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeConflict      = "conflict"
	ErrCodeNotLoggedIn   = "not_logged_in"
	ErrCodeDatabaseError = "database_error"
	ErrCodeSyncError     = "sync_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	fmt.Printf(`{"error":{"code":"%s","message":"%s"}}`, code, message)
	fmt.Println()
}

// SyncBadge returns a sync status indicator with symbol
// e.g., "○ pending", "↑ syncing", "✓ synced", "✗ failed"
func SyncBadge(status models.SyncStatus) string {
	symbols := map[models.SyncStatus]string{
		models.SyncPending: "○",
		models.SyncSyncing: "↑",
		models.SyncSynced:  "✓",
		models.SyncFailed:  "✗",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	style, hasStyle := syncStyles[status]
	if hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// FormatSyncStatus formats a sync status with color
func FormatSyncStatus(s models.SyncStatus) string {
	style, ok := syncStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatRating renders a 1-5 rating as stars, empty for unrated.
func FormatRating(rating int) string {
	if rating < 1 {
		return ""
	}
	if rating > 5 {
		rating = 5
	}
	return ratingStyle.Render(strings.Repeat("★", rating) + strings.Repeat("☆", 5-rating))
}

// FormatPlaceShort formats a place in short list format
func FormatPlaceShort(p *models.Place) string {
	var parts []string
	parts = append(parts, titleStyle.Render(p.ID))
	parts = append(parts, p.Name)
	if p.Category != "" {
		parts = append(parts, subtleStyle.Render(p.Category))
	}
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("%.4f,%.4f", p.Lat, p.Lng)))
	parts = append(parts, SyncBadge(p.SyncStatus))
	return strings.Join(parts, "  ")
}

// FormatTripShort formats a trip in short list format
func FormatTripShort(t *models.Trip) string {
	var parts []string
	parts = append(parts, titleStyle.Render(t.ID))
	parts = append(parts, t.Name)
	if t.StartDate != nil {
		dates := t.StartDate.Format("2006-01-02")
		if t.EndDate != nil {
			dates += " to " + t.EndDate.Format("2006-01-02")
		}
		parts = append(parts, subtleStyle.Render(dates))
	}
	if len(t.Collaborators) > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("+%d shared", len(t.Collaborators))))
	}
	parts = append(parts, SyncBadge(t.SyncStatus))
	return strings.Join(parts, "  ")
}

// FormatLogShort formats a visit log in short list format
func FormatLogShort(l *models.Log, placeName string) string {
	var parts []string
	parts = append(parts, titleStyle.Render(l.ID))
	if placeName != "" {
		parts = append(parts, placeName)
	} else {
		parts = append(parts, l.PlaceID)
	}
	if r := FormatRating(l.Rating); r != "" {
		parts = append(parts, r)
	}
	parts = append(parts, subtleStyle.Render(l.VisitedAt.Format("2006-01-02")))
	if n := len(l.PendingPhotos()); n > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d photo(s) uploading", n)))
	}
	parts = append(parts, SyncBadge(l.SyncStatus))
	return strings.Join(parts, "  ")
}

// FormatListShort formats a saved list in short format
func FormatListShort(sl *models.SavedList) string {
	var parts []string
	parts = append(parts, titleStyle.Render(sl.ID))
	parts = append(parts, sl.Name)
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d places", len(sl.PlaceIDs))))
	parts = append(parts, SyncBadge(sl.SyncStatus))
	return strings.Join(parts, "  ")
}

// FormatLogLong formats a visit log with full detail
func FormatLogLong(l *models.Log, place *models.Place, trip *models.Trip) string {
	var sb strings.Builder

	header := l.ID
	if place != nil {
		header = fmt.Sprintf("%s: %s", l.ID, place.Name)
	}
	sb.WriteString(titleStyle.Render(header))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Visited: %s\n", l.VisitedAt.Format("2006-01-02 15:04")))
	if l.Rating > 0 {
		sb.WriteString(fmt.Sprintf("Rating: %s\n", FormatRating(l.Rating)))
	}
	if trip != nil {
		sb.WriteString(fmt.Sprintf("Trip: %s (%s)\n", trip.Name, trip.ID))
	}
	if len(l.Tags) > 0 {
		sb.WriteString(fmt.Sprintf("Tags: %s\n", strings.Join(l.Tags, ", ")))
	}
	sb.WriteString(fmt.Sprintf("Sync: %s\n", SyncBadge(l.SyncStatus)))

	if l.Note != "" {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Note:"))
		sb.WriteString("\n")
		sb.WriteString(l.Note)
		sb.WriteString("\n")
	}

	if len(l.Photos) > 0 {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Photos:"))
		sb.WriteString("\n")
		for _, p := range l.Photos {
			if p.Pending() {
				sb.WriteString(fmt.Sprintf("  %s %s\n", warningStyle.Render("uploading"), p.BlobID))
			} else {
				sb.WriteString(fmt.Sprintf("  %s\n", p.URL))
			}
		}
	}

	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPENDING:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
