package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

type confirmKeyMap struct {
	Left    key.Binding
	Right   key.Binding
	Yes     key.Binding
	No      key.Binding
	Confirm key.Binding
}

var confirmKeys = confirmKeyMap{
	Left:    key.NewBinding(key.WithKeys("left", "h")),
	Right:   key.NewBinding(key.WithKeys("right", "l")),
	Yes:     key.NewBinding(key.WithKeys("y")),
	No:      key.NewBinding(key.WithKeys("n", "q", "esc", "ctrl+c")),
	Confirm: key.NewBinding(key.WithKeys("enter")),
}

// ConfirmationModel asks a yes/no question and quits once answered
type ConfirmationModel struct {
	title     string
	message   string
	cursor    int
	choices   []string
	confirmed bool
	done      bool
}

// NewConfirmationModel creates a prompt. The cursor starts on "No".
func NewConfirmationModel(title, message string) ConfirmationModel {
	return ConfirmationModel{
		title:   title,
		message: message,
		choices: []string{"Yes", "No"},
		cursor:  1,
	}
}

func (m ConfirmationModel) Init() tea.Cmd {
	return nil
}

func (m ConfirmationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, confirmKeys.No):
		m.done = true
		return m, tea.Quit

	case key.Matches(keyMsg, confirmKeys.Yes):
		m.confirmed = true
		m.done = true
		return m, tea.Quit

	case key.Matches(keyMsg, confirmKeys.Left):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(keyMsg, confirmKeys.Right):
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}

	case key.Matches(keyMsg, confirmKeys.Confirm):
		m.confirmed = m.cursor == 0
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m ConfirmationModel) View() string {
	if m.done {
		return ""
	}

	var s strings.Builder

	header := titleStyle.Render(m.title)
	s.WriteString(fmt.Sprintf("\n%s\n\n", header))

	s.WriteString(fmt.Sprintf("%s\n\n", m.message))

	for i, choice := range m.choices {
		cursor := " "
		if m.cursor == i {
			cursor = ">"
			s.WriteString(selectedStyle.Render(fmt.Sprintf("%s [%s]", cursor, choice)))
		} else {
			s.WriteString(fmt.Sprintf("%s [%s]", cursor, choice))
		}
		s.WriteString("  ")
	}

	s.WriteString("\n\n")
	s.WriteString(infoStyle.Render("←/→: Select • Enter/y: Confirm • n/ESC: Cancel"))
	s.WriteString("\n")

	return s.String()
}

// IsConfirmed reports whether the user answered yes
func (m ConfirmationModel) IsConfirmed() bool {
	return m.confirmed
}
