package tui

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"pgrman/internal/restore"
)

// IsTerminal reports whether f is an interactive terminal
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// RestorePrompter returns a confirmation step that shows the plan on out
// and reads the answer from in.
func RestorePrompter(in io.Reader, out io.Writer) restore.ConfirmFunc {
	return func(plan *restore.Plan) (bool, error) {
		model := NewConfirmationModel("pgrman restore", RenderPlan(plan)+"\n\nProceed with restore?")
		program := tea.NewProgram(model, tea.WithInput(in), tea.WithOutput(out))

		final, err := program.Run()
		if err != nil {
			return false, fmt.Errorf("confirmation prompt failed: %w", err)
		}
		return final.(ConfirmationModel).IsConfirmed(), nil
	}
}
