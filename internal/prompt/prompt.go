// Package prompt implements the serial port prompts on a terminal with
// Bubble Tea.
package prompt

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dshills/piotask/internal/serial"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	itemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// Terminal prompts on a terminal. The zero value uses stdin and stdout.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

// Pick implements serial.Prompter.
func (t Terminal) Pick(ctx context.Context, title string, items []serial.Item) (int, bool, error) {
	m, err := t.run(ctx, newPickModel(title, items))
	if err != nil {
		return 0, false, err
	}
	pm := m.(pickModel)
	if pm.cancelled {
		return 0, false, nil
	}
	return pm.cursor, true, nil
}

// Input implements serial.Prompter.
func (t Terminal) Input(ctx context.Context, prompt, value string) (string, bool, error) {
	m, err := t.run(ctx, newInputModel(prompt, value))
	if err != nil {
		return "", false, err
	}
	im := m.(inputModel)
	if im.cancelled {
		return "", false, nil
	}
	return im.input.Value(), true, nil
}

func (t Terminal) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	in, out := t.In, t.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("running prompt: %w", err)
	}
	return final, nil
}

type pickModel struct {
	title     string
	items     []serial.Item
	cursor    int
	done      bool
	cancelled bool
}

func newPickModel(title string, items []serial.Item) pickModel {
	return pickModel{title: title, items: items}
}

func (m pickModel) Init() tea.Cmd {
	return nil
}

func (m pickModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.items) == 0 {
			m.cancelled = true
		}
		m.done = true
		return m, tea.Quit
	case "esc", "ctrl+c", "q":
		m.cancelled = true
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m pickModel) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	for i, it := range m.items {
		line := "  " + it.Label
		style := itemStyle
		if i == m.cursor {
			line = "> " + it.Label
			style = selectedStyle
		}
		b.WriteString(style.Render(line))
		if it.Description != "" {
			b.WriteString(" " + dimStyle.Render(it.Description))
		}
		if it.Detail != "" && i == m.cursor {
			b.WriteString("\n    " + dimStyle.Render(it.Detail))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n" + dimStyle.Render("↑/↓ move • enter select • esc cancel") + "\n")
	return b.String()
}

type inputModel struct {
	prompt    string
	input     textinput.Model
	done      bool
	cancelled bool
}

func newInputModel(prompt, value string) inputModel {
	ti := textinput.New()
	ti.SetValue(value)
	ti.CharLimit = 256
	ti.Width = 40
	ti.Focus()
	return inputModel{prompt: prompt, input: ti}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.cancelled = true
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return titleStyle.Render(m.prompt) + "\n\n" + m.input.View() + "\n\n" +
		dimStyle.Render("enter confirm • esc cancel") + "\n"
}
