package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/rehearse/internal/formatter"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/urfave/cli/v3"
)

// SessionCreate opens another session for the selected package.
func (r *Runner) SessionCreate(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	session, err := engine.CreateSession(ctx)
	if err != nil {
		return err
	}
	r.report()
	return r.writePlain("Session: %s\n", session.ID)
}

// SessionShow prints the active session.
func (r *Runner) SessionShow(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	st := engine.State()
	if st.Session == nil {
		return fmt.Errorf("%w: no active session", shared.ErrPrecondition)
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{"session": st.Session, "questions": st.Questions}, cmd.Bool("pretty"))
	}

	data, err := formatter.SessionToMarkdown(st.Session, st.Questions, nil)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}

// SessionExport writes the active session to files.
func (r *Runner) SessionExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	st := engine.State()
	if st.Session == nil {
		return fmt.Errorf("%w: no active session", shared.ErrPrecondition)
	}
	output := cmd.String("output")

	r.logger.Info("exporting session", "session_id", st.Session.ID, "format", format)

	switch format {
	case formatter.FormatCSV:
		result, err := formatter.WriteCSVExport(st.Session, st.Questions, output)
		if err != nil {
			return err
		}
		r.writePlain("✓ Questions: %s\n", result.QuestionsFile)
		r.writePlain("✓ Session: %s\n", result.SessionFile)
	case formatter.FormatMarkdown:
		result, err := formatter.WriteMarkdownExport(st.Session, st.Questions, output, cmd.Bool("download"))
		if err != nil {
			return err
		}
		r.writePlain("✓ Exported to %s\n", result.Directory)
		for _, f := range result.Files {
			r.writePlain("  %s\n", f)
		}
		if len(result.Recordings) > 0 {
			r.writePlain("  %d recordings downloaded\n", len(result.Recordings))
		}
	case formatter.FormatText:
		path, err := formatter.WriteTextExport(st.Session, st.Questions, output)
		if err != nil {
			return err
		}
		r.writePlain("✓ Exported to %s\n", path)
	default:
		return fmt.Errorf("%w: export supports csv, markdown and text", shared.ErrInvalidArgument)
	}
	return nil
}

// QuestionList prints the session's questions with the cursor marked.
func (r *Runner) QuestionList(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	st := engine.State()
	if st.Session == nil {
		return fmt.Errorf("%w: no active session", shared.ErrPrecondition)
	}

	if cmd.Bool("csv") {
		data, err := formatter.QuestionsToCSV(st.Questions)
		if err != nil {
			return err
		}
		return r.writeBytes(data)
	}

	r.writePlainHeader(fmt.Sprintf("%s (%d questions)", st.Session.PackageName, len(st.Questions)))
	data, err := formatter.QuestionsToText(st.Questions, st.Cursor)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}

// QuestionNext moves to the next question and prints it.
func (r *Runner) QuestionNext(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	q, err := engine.AdvanceQuestion(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("%d/%d %s\n%s\n", q.Position, len(engine.Questions()), q.Prompt, q.ID)
}
