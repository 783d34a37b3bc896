// Package monitor is the live sync dashboard: queue depth, per-record
// status badges, attachment uploads, and pull watermarks, refreshed on an
// interval.
package monitor

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
)

// Panel represents which panel is active
type Panel int

const (
	PanelOverview Panel = iota
	PanelQueue
	PanelUploads
)

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	DB      *db.DB
	OwnerID string
	Email   string
	Server  string

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Pending    int
	Tombstones int
	Unsynced   []db.StatusRow
	Uploads    []models.Upload
	DeadCount  int
	Watermarks map[models.EntityType]time.Time

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	LastRefresh  time.Time
	Err          error

	Spinner         spinner.Model
	Refreshing      bool
	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 12

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Pending    int
	Tombstones int
	Unsynced   []db.StatusRow
	Uploads    []models.Upload
	DeadCount  int
	Watermarks map[models.EntityType]time.Time
	Err        error
	Timestamp  time.Time
}

// NewModel creates a new monitor model
func NewModel(database *db.DB, ownerID, email, server string, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		DB:              database,
		OwnerID:         ownerID,
		Email:           email,
		Server:          server,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelOverview,
		Spinner:         sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.Spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		m.Refreshing = true
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Pending = msg.Pending
		m.Tombstones = msg.Tombstones
		m.Unsynced = msg.Unsynced
		m.Uploads = msg.Uploads
		m.DeadCount = msg.DeadCount
		m.Watermarks = msg.Watermarks
		m.Err = msg.Err
		m.LastRefresh = msg.Timestamp
		m.Refreshing = false
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % 3
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + 2) % 3
		return m, nil

	case "1":
		m.ActivePanel = PanelOverview
		return m, nil

	case "2":
		m.ActivePanel = PanelQueue
		return m, nil

	case "3":
		m.ActivePanel = PanelUploads
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "r":
		m.Refreshing = true
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(m.DB, m.OwnerID)
	}
}
