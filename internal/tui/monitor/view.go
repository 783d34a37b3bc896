package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/wander/internal/models"
)

// renderView assembles the full dashboard.
func (m Model) renderView() string {
	if m.Width < MinWidth || m.Height < MinHeight {
		return subtleStyle.Render(fmt.Sprintf("Terminal too small (need at least %dx%d)", MinWidth, MinHeight))
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	footer := m.renderFooter()

	// Remaining rows are split between the three panels: overview is fixed,
	// uploads gets a third of the rest, the queue takes what's left.
	bodyHeight := m.Height - lipgloss.Height(header) - lipgloss.Height(footer)
	overviewHeight := 8
	uploadsHeight := (bodyHeight - overviewHeight) / 3
	if uploadsHeight < 4 {
		uploadsHeight = 4
	}
	queueHeight := bodyHeight - overviewHeight - uploadsHeight
	if queueHeight < 4 {
		queueHeight = 4
	}

	overview := m.renderPanel(PanelOverview, "1 Overview", m.overviewLines(), overviewHeight)
	queue := m.renderPanel(PanelQueue, "2 Queue", m.queueLines(), queueHeight)
	uploads := m.renderPanel(PanelUploads, "3 Uploads", m.uploadLines(), uploadsHeight)

	return lipgloss.JoinVertical(lipgloss.Left, header, overview, queue, uploads, footer)
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("wander sync monitor")
	who := subtleStyle.Render(fmt.Sprintf("%s @ %s", m.Email, m.Server))

	refreshed := ""
	if m.Refreshing {
		refreshed = m.Spinner.View() + " refreshing"
	} else if !m.LastRefresh.IsZero() {
		refreshed = timestampStyle.Render("refreshed " + formatAge(m.LastRefresh) + " ago")
	}

	left := title + "  " + who
	gap := m.Width - lipgloss.Width(left) - lipgloss.Width(refreshed) - 1
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + refreshed
}

func (m Model) renderFooter() string {
	if m.Err != nil {
		return errorStyle.Render(ansi.Truncate("error: "+m.Err.Error(), m.Width, "…"))
	}
	return helpStyle.Render("tab switch · j/k scroll · r refresh · ? help · q quit")
}

// renderPanel draws one bordered panel with a title, scrolled to the panel's
// offset and truncated to the panel's inner size.
func (m Model) renderPanel(p Panel, title string, lines []string, height int) string {
	style := panelStyle
	if m.ActivePanel == p {
		style = activePanelStyle
	}

	innerWidth := m.Width - 4   // border + padding
	innerHeight := height - 2   // border
	if innerHeight < 1 {
		innerHeight = 1
	}

	offset := m.ScrollOffset[p]
	if offset > len(lines)-1 {
		offset = max(0, len(lines)-1)
	}
	visible := lines[min(offset, len(lines)):]
	if len(visible) > innerHeight-1 {
		visible = visible[:innerHeight-1]
	}

	var b strings.Builder
	b.WriteString(panelTitleStyle.Render(title))
	for _, line := range visible {
		b.WriteString("\n")
		b.WriteString(ansi.Truncate(line, innerWidth, "…"))
	}

	return style.Width(innerWidth).Height(innerHeight).Render(b.String())
}

// overviewLines summarises queue depth and pull progress.
func (m Model) overviewLines() []string {
	lines := []string{
		fmt.Sprintf("pending changes   %d", m.Pending),
		fmt.Sprintf("delete intents    %d", m.Tombstones),
		fmt.Sprintf("dead uploads      %s", renderCount(m.DeadCount, errorStyle)),
		"",
	}
	for _, entity := range models.EntityTypes {
		mark := m.Watermarks[entity]
		label := "never pulled"
		if !mark.IsZero() {
			label = "pulled through " + mark.Local().Format(time.DateTime)
		}
		lines = append(lines, fmt.Sprintf("%-12s %s", entity, subtleStyle.Render(label)))
	}
	return lines
}

// queueLines lists every record not yet synced, oldest first.
func (m Model) queueLines() []string {
	if len(m.Unsynced) == 0 {
		return []string{subtleStyle.Render("everything is synced")}
	}
	lines := make([]string, 0, len(m.Unsynced))
	for _, r := range m.Unsynced {
		retry := ""
		if r.RetryCount > 0 {
			retry = subtleStyle.Render(fmt.Sprintf(" retries=%d", r.RetryCount))
			if r.NextRetryAt != nil {
				retry += subtleStyle.Render(" next in " + formatIn(*r.NextRetryAt))
			} else if r.SyncStatus == models.SyncFailed {
				retry += errorStyle.Render(" needs edit")
			}
		}
		label := r.Label
		if label == "" {
			label = r.ID
		}
		lines = append(lines, fmt.Sprintf("%s  %-11s %s%s",
			formatStatus(r.SyncStatus), r.EntityType, label, retry))
	}
	return lines
}

// uploadLines lists queued and dead attachment transfers.
func (m Model) uploadLines() []string {
	if len(m.Uploads) == 0 {
		return []string{subtleStyle.Render("no attachment uploads in flight")}
	}
	lines := make([]string, 0, len(m.Uploads))
	for _, u := range m.Uploads {
		retry := ""
		if u.RetryCount > 0 {
			retry = subtleStyle.Render(fmt.Sprintf(" attempts=%d", u.RetryCount))
		}
		lines = append(lines, fmt.Sprintf("%s  %s → log %s%s",
			formatUploadState(u.State), u.BlobID, u.LogID, retry))
	}
	return lines
}

func (m Model) renderHelp() string {
	help := `wander sync monitor

  Panels
    1  Overview: queue depth, delete intents, pull watermarks
    2  Queue: every record not yet confirmed by the server
    3  Uploads: attachment transfers and their retry state

  Keys
    Tab/Shift+Tab  switch panels
    1/2/3          jump to panel
    j/k, ↑/↓       scroll active panel
    r              refresh now
    ?              toggle this help
    q              quit
`
	return panelStyle.Width(m.Width - 2).Render(help)
}

func renderCount(n int, hot lipgloss.Style) string {
	if n == 0 {
		return "0"
	}
	return hot.Render(fmt.Sprintf("%d", n))
}
