package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestKeyBytes(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want string
	}{
		{"runes", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ls")}, "ls"},
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, "\r"},
		{"backspace", tea.KeyMsg{Type: tea.KeyBackspace}, "\x7f"},
		{"up arrow", tea.KeyMsg{Type: tea.KeyUp}, "\x1b[A"},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, "\x03"},
		{"ctrl+d", tea.KeyMsg{Type: tea.KeyCtrlD}, "\x04"},
		{"tab", tea.KeyMsg{Type: tea.KeyTab}, "\t"},
		{"delete", tea.KeyMsg{Type: tea.KeyDelete}, "\x1b[3~"},
	}

	for _, tt := range tests {
		if got := keyBytes(tt.msg); string(got) != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestKeyBytesUnknownNotForwarded(t *testing.T) {
	if got := keyBytes(tea.KeyMsg{Type: tea.KeyCtrlQ}); got != nil {
		t.Errorf("reserved chord must not reach the shell, got %q", got)
	}
}
