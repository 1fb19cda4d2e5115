// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the estimator view
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Controls carries key presses back to the driver
type Controls struct {
	Sync chan struct{}
	Quit chan struct{}
}

// NewControls creates the control channels
func NewControls() *Controls {
	return &Controls{
		Sync: make(chan struct{}, 1),
		Quit: make(chan struct{}, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(mode, serverURL string, controls *Controls) Model {
	return Model{
		mode:      mode,
		serverURL: serverURL,
		state:     "disconnected",
		controls:  controls,
	}
}

// Run creates the TUI program; the caller runs it and feeds it StatusMsg
func Run(model Model) *tea.Program {
	return tea.NewProgram(model, tea.WithAltScreen())
}
