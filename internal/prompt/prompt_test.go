package prompt

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dshills/piotask/internal/serial"
)

var items = []serial.Item{
	{Label: "Auto"},
	{Label: "/dev/ttyUSB0", Description: "CP2102", Detail: "USB VID:PID=10C4:EA60"},
	{Label: serial.CustomLabel},
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func press(m tea.Model, keys ...string) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		m, cmd = m.Update(key(k))
	}
	return m, cmd
}

func TestPickModel_Select(t *testing.T) {
	m, cmd := press(newPickModel("Select serial port", items), "down", "down", "down", "up", "enter")
	pm := m.(pickModel)

	if pm.cancelled || pm.cursor != 1 {
		t.Errorf("cursor = %d cancelled = %v, want 1 false", pm.cursor, pm.cancelled)
	}
	if cmd == nil {
		t.Error("enter should quit")
	}
}

func TestPickModel_CursorBounds(t *testing.T) {
	m, _ := press(newPickModel("t", items), "up", "k")
	if c := m.(pickModel).cursor; c != 0 {
		t.Errorf("cursor = %d, want 0", c)
	}
	m, _ = press(m, "j", "j", "j", "j")
	if c := m.(pickModel).cursor; c != 2 {
		t.Errorf("cursor = %d, want 2", c)
	}
}

func TestPickModel_Cancel(t *testing.T) {
	m, _ := press(newPickModel("t", items), "down", "esc")
	if !m.(pickModel).cancelled {
		t.Error("esc should cancel")
	}
}

func TestPickModel_EmptyListEnterCancels(t *testing.T) {
	m, _ := press(newPickModel("t", nil), "enter")
	if !m.(pickModel).cancelled {
		t.Error("enter on an empty list should cancel")
	}
}

func TestPickModel_View(t *testing.T) {
	m, _ := press(newPickModel("Select serial port", items), "down")
	view := m.View()
	for _, want := range []string{"Select serial port", "> /dev/ttyUSB0", "USB VID:PID=10C4:EA60"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestInputModel(t *testing.T) {
	m, _ := press(newInputModel("Serial port", ""), "COM3", "enter")
	im := m.(inputModel)
	if im.cancelled || im.input.Value() != "COM3" {
		t.Errorf("value = %q cancelled = %v", im.input.Value(), im.cancelled)
	}

	m, _ = press(newInputModel("Serial port", "COM1"), "esc")
	if !m.(inputModel).cancelled {
		t.Error("esc should cancel")
	}
}
