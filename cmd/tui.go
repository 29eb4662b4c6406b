package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/desertthunder/spotidal/internal/ui"
	"github.com/urfave/cli/v3"
)

// tuiLogPath is where logs go while the TUI owns the terminal.
var tuiLogPath = filepath.Join(os.TempDir(), "spotidal-tui.log")

// TUI launches the interactive terminal UI for playlist transfer.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.requireEngine()
	if err != nil {
		return err
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	if r.logOutput != nil {
		f, err := shared.OpenLogFile(tuiLogPath)
		if err != nil {
			return err
		}
		defer f.Close()
		prev := r.logOutput.Swap(f)
		defer r.logOutput.Swap(prev)
	}

	model := ui.NewModel(ctx, r.source, r.dest.Name(), engine)
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return model.Err()
}
