// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status snapshots, key handling and rendering
package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/timesync-go/timesync/internal/clocksync"
)

func TestNewModel(t *testing.T) {
	model := NewModel("push", "ws://clock.lan/ws", nil)

	if model.state != "disconnected" {
		t.Errorf("expected initial state 'disconnected', got '%s'", model.state)
	}

	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}

	if model.samples != 0 {
		t.Errorf("expected no samples, got %d", model.samples)
	}
}

func TestApplyStatus(t *testing.T) {
	model := NewModel("push", "ws://clock.lan/ws", nil)

	model.applyStatus(StatusMsg{
		State:           "synced",
		Offset:          -10 * time.Millisecond,
		Samples:         3,
		Quality:         clocksync.QualityGood,
		CorrectedMillis: 1_700_000_012_345,
	})

	if model.state != "synced" {
		t.Errorf("expected state 'synced', got '%s'", model.state)
	}
	if model.offset != -10*time.Millisecond {
		t.Errorf("expected offset -10ms, got %s", model.offset)
	}
	if model.corrected != 1_700_000_012_345 {
		t.Errorf("unexpected corrected time %d", model.corrected)
	}

	// a later snapshot clears the error
	model.applyStatus(StatusMsg{State: "disconnected", Err: errors.New("gave up")})
	if model.lastErr != "gave up" {
		t.Errorf("expected lastErr 'gave up', got '%s'", model.lastErr)
	}
	model.applyStatus(StatusMsg{State: "connecting"})
	if model.lastErr != "" {
		t.Errorf("expected lastErr cleared, got '%s'", model.lastErr)
	}
}

func TestUpdateStatusMsg(t *testing.T) {
	model := NewModel("poll", "http://clock.lan/time", nil)

	updated, cmd := model.Update(StatusMsg{State: "synced", Samples: 1})
	if cmd != nil {
		t.Error("expected no command from a status update")
	}
	if updated.(Model).state != "synced" {
		t.Error("expected status to be applied through Update")
	}
}

func TestKeyQuitSignalsControls(t *testing.T) {
	controls := NewControls()
	model := NewModel("push", "", controls)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}

	select {
	case <-controls.Quit:
	default:
		t.Error("expected quit to be signalled")
	}
}

func TestKeySyncSignalsControls(t *testing.T) {
	controls := NewControls()
	model := NewModel("push", "", controls)

	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	// a second press while one is pending must not block
	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})

	select {
	case <-controls.Sync:
	default:
		t.Error("expected sync to be signalled")
	}
}

func TestKeyToggleDebug(t *testing.T) {
	model := NewModel("push", "", nil)

	updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	if !updated.(Model).showDebug {
		t.Error("expected debug to be shown")
	}
}

func TestView(t *testing.T) {
	model := NewModel("push", "ws://clock.lan/ws", nil)

	if model.View() != "Loading..." {
		t.Error("expected loading view before the first resize")
	}

	updated, _ := model.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	model = updated.(Model)

	view := model.View()
	if !strings.Contains(view, "Waiting for the first sample") {
		t.Error("expected waiting notice before any sample")
	}

	model.applyStatus(StatusMsg{
		State:           "synced",
		Samples:         1,
		Quality:         clocksync.QualityGood,
		CorrectedMillis: 1_700_000_012_345,
	})
	view = model.View()
	if !strings.Contains(view, "12345") {
		t.Error("expected the last digits in the view")
	}
	if !strings.Contains(view, "Synced") {
		t.Error("expected synced status in the view")
	}
}

func TestLastDigits(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{1_700_000_012_345, "12345"},
		{1_700_000_000_042, "00042"},
		{7, "00007"},
		{0, "00000"},
	}

	for _, tt := range tests {
		if got := LastDigits(tt.ms); got != tt.want {
			t.Errorf("LastDigits(%d) = %s, want %s", tt.ms, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("expected 'short', got '%s'", got)
	}
	if got := truncate("a much longer string", 10); got != "a much ..." {
		t.Errorf("expected 'a much ...', got '%s'", got)
	}
}
