// ABOUTME: Bubbletea model for the estimator status view
// ABOUTME: Shows session state, offset and the corrected clock
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/timesync-go/timesync/internal/clocksync"
)

// Model represents the TUI state
type Model struct {
	// Session
	mode      string
	serverURL string
	state     string
	attempts  int
	lastErr   string

	// Sync
	offset      time.Duration
	rtt         time.Duration
	samples     int
	syncQuality clocksync.Quality
	corrected   int64

	controls *Controls

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int
}

// StatusMsg is a full snapshot of the estimator
type StatusMsg struct {
	State           string
	Attempts        int
	Err             error
	Offset          time.Duration
	RTT             time.Duration
	Samples         int
	Quality         clocksync.Quality
	CorrectedMillis int64
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderClock()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders session and sync status
func (m Model) renderHeader() string {
	syncIcon := "✗"
	syncText := "Not synced"
	switch m.syncQuality {
	case clocksync.QualityGood:
		syncIcon = "✓"
		syncText = fmt.Sprintf("Synced (offset: %+.1fms)", float64(m.offset.Microseconds())/1000.0)
	case clocksync.QualityStale:
		syncIcon = "⚠"
		syncText = fmt.Sprintf("Stale (offset: %+.1fms)", float64(m.offset.Microseconds())/1000.0)
	}

	status := m.state
	if m.attempts > 0 {
		status = fmt.Sprintf("%s (reconnect %d)", m.state, m.attempts)
	}

	return fmt.Sprintf(`┌─ TimeSync ───────────────────────────────────────────┐
│ Server: %-44s │
│ Mode:   %-44s │
│ Status: %-44s │
│ Sync:   %s %-42s │
├──────────────────────────────────────────────────────┤
`, truncate(m.serverURL, 44), m.mode, truncate(status, 44), syncIcon, truncate(syncText, 42))
}

// renderClock renders the corrected time and its fast-moving digits
func (m Model) renderClock() string {
	if m.samples == 0 {
		return "│ Waiting for the first sample...                      │\n"
	}

	t := time.UnixMilli(m.corrected)
	return fmt.Sprintf(`│ Corrected: %-41s │
│ Epoch ms:  %-41d │
│ Digits:    %-41s │
`, t.Format("2006-01-02 15:04:05.000"), m.corrected, LastDigits(m.corrected))
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ s:Sync now  d:Debug  q:Quit                          │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	lastErr := m.lastErr
	if lastErr == "" {
		lastErr = "none"
	}
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ DEBUG:                                               │
│   Samples: %-41d │
│   RTT:     %-41s │
│   Error:   %-41s │
`, m.samples, m.rtt, truncate(lastErr, 41))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.controls != nil {
			select {
			case m.controls.Quit <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "s":
		if m.controls != nil {
			select {
			case m.controls.Sync <- struct{}{}:
			default:
			}
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus replaces the displayed snapshot
func (m *Model) applyStatus(msg StatusMsg) {
	m.state = msg.State
	m.attempts = msg.Attempts
	m.lastErr = ""
	if msg.Err != nil {
		m.lastErr = msg.Err.Error()
	}
	m.offset = msg.Offset
	m.rtt = msg.RTT
	m.samples = msg.Samples
	m.syncQuality = msg.Quality
	m.corrected = msg.CorrectedMillis
}

// LastDigits returns the last five digits of an epoch millisecond value,
// the part that visibly differs between unsynchronized clocks
func LastDigits(ms int64) string {
	if ms < 0 {
		ms = -ms
	}
	return fmt.Sprintf("%05d", ms%100000)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
