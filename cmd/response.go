package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/desertthunder/rehearse/internal/tasks"
	"github.com/urfave/cli/v3"
)

// questionID returns the --question flag or the id of the question under the cursor.
func questionID(engine *tasks.Engine, cmd *cli.Command) (string, error) {
	if id := cmd.String("question"); id != "" {
		return id, nil
	}
	q, err := engine.CurrentQuestion()
	if err != nil {
		return "", err
	}
	return q.ID, nil
}

// ResponseSave uploads a recording file as the answer to a question.
func (r *Runner) ResponseSave(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("file")
	if path == "" {
		return fmt.Errorf("%w: recording file", shared.ErrMissingArgument)
	}
	rt, err := models.ParseRecordingType(cmd.String("type"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}
	qid, err := questionID(engine, cmd)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	r.logger.Info("uploading recording", "question_id", qid, "file", path, "type", rt)

	resp, err := engine.SaveResponse(ctx, qid, tasks.Answer{Body: f, Type: rt, Duration: cmd.Int("duration")})
	if err != nil {
		return err
	}
	r.report()
	r.writePlain("Recording: %s\n", resp.RecordingURL)

	if cmd.Bool("open") {
		if err := shared.OpenURL(resp.RecordingURL); err != nil {
			r.logger.Warn("could not open recording", "error", err)
		}
	}

	if cmd.Bool("next") {
		if q, err := engine.AdvanceQuestion(ctx); err == nil {
			r.writePlain("Next: %d. %s\n", q.Position, q.Prompt)
		} else {
			r.writePlain("That was the last question\n")
		}
	}
	return nil
}

// ResponseAnalyze attaches an analysis document to a question's response.
//
// The analysis is read from --file (a JSON object) or assembled from --rating and --summary.
func (r *Runner) ResponseAnalyze(ctx context.Context, cmd *cli.Command) error {
	analysis := models.Analysis{}
	if file := cmd.String("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read analysis: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&analysis); err != nil {
			return fmt.Errorf("%w: analysis is not a JSON object: %v", shared.ErrInvalidArgument, err)
		}
	}
	if cmd.IsSet("rating") {
		analysis["overallRating"] = cmd.Float("rating")
	}
	if s := cmd.String("summary"); s != "" {
		analysis["summary"] = s
	}
	if len(analysis) == 0 {
		return fmt.Errorf("%w: --file or --rating", shared.ErrMissingArgument)
	}

	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}
	qid, err := questionID(engine, cmd)
	if err != nil {
		return err
	}

	if err := engine.SaveAnalysis(ctx, qid, analysis); err != nil {
		return err
	}
	r.report()
	return nil
}
