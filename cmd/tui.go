package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/desertthunder/rehearse/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive package picker.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(r.config.Log.File)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, shared.ParseLogLevel(r.config.Log.Level))
	r.SetLogger(fileLogger)

	engine, err := r.connect(ctx, true)
	if err != nil {
		return err
	}
	if !engine.State().LoggedIn() {
		return fmt.Errorf("%w: run 'rehearse auth login' first", shared.ErrNotAuthenticated)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := ui.NewModel(ctx, engine)
	notifier, err := engine.StartNotifier(ctx, model.CatalogListener())
	switch {
	case errors.Is(err, shared.ErrServiceUnavailable):
		r.logger.Warn("live catalog updates are off", "error", err)
	case err != nil:
		return err
	default:
		defer notifier.Close()
	}

	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	// The picker talks to the engine directly; its notices are summarized here instead.
	r.report()
	if s := model.Session(); s != nil {
		r.writePlain("Session: %s\n", s.ID)
	}
	return nil
}
