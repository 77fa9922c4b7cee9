package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Run blocks until the user quits or ctx is cancelled. Any open room is closed on the way out.
func Run(ctx context.Context, deps Deps, altScreen bool) error {
	if deps.Connect == nil || deps.Dial == nil {
		return errors.New("tui: Connect and Dial are required")
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithMouseCellMotion()}
	if altScreen {
		opts = append(opts, tea.WithAltScreen())
	}

	final, err := tea.NewProgram(newModel(deps), opts...).Run()
	if m, ok := final.(model); ok {
		m.closeRoom()
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
