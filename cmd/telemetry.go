package main

import (
	"context"
	"time"

	"github.com/desertthunder/rehearse/internal/formatter"
	"github.com/desertthunder/rehearse/internal/tasks"
	"github.com/urfave/cli/v3"
)

// TelemetryUsage writes the usage row for the active session.
func (r *Runner) TelemetryUsage(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	if _, err := engine.SaveUsageData(ctx); err != nil {
		return err
	}
	r.report()
	return nil
}

// TelemetryFeedback submits an app rating for the active session.
func (r *Runner) TelemetryFeedback(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	in := tasks.FeedbackInput{Rating: cmd.Int("rating"), Text: cmd.String("text")}
	if _, err := engine.SaveFeedbackData(ctx, in); err != nil {
		return err
	}
	r.report()
	return nil
}

// TelemetrySummary previews the usage row without writing it.
func (r *Runner) TelemetrySummary(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	summary, err := tasks.BuildUsageSummary(engine.State(), r.config.Backend.UserAgent, time.Now())
	if err != nil {
		return err
	}

	data, err := formatter.RenderUsage(format, summary)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}
