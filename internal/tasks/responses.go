package tasks

import (
	"context"
	"fmt"
	"io"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
)

// Answer is a recorded answer to save for a question.
type Answer struct {
	Body     io.Reader
	Type     models.RecordingType
	Duration int // seconds
}

// SaveResponse uploads the recording and then writes its responses row. If the row cannot be written and
// orphan removal is enabled, the uploaded object is deleted again.
func (e *Engine) SaveResponse(ctx context.Context, questionID string, a Answer) (*models.Response, error) {
	url, path, err := e.upload(ctx, Recording{Body: a.Body, Type: a.Type, QuestionID: questionID})
	if err != nil {
		return nil, err
	}

	row := models.Response{
		QuestionID:    questionID,
		RecordingType: a.Type,
		Duration:      a.Duration,
		RecordingURL:  url,
		RecordedAt:    e.now(),
	}

	if err := e.store.Insert(ctx, models.TableResponses, row, nil); err != nil {
		e.logger.Error("error saving response", "question_id", questionID, "error", err)
		e.removeOrphan(ctx, path)
		return nil, fmt.Errorf("%w: %w", shared.ErrPersist, err)
	}

	if q, ok := e.markQuestion(questionID, func(q *models.Question) {
		q.UserResponse = &models.RecordedAnswer{
			Type:         row.RecordingType,
			Duration:     row.Duration,
			RecordingURL: row.RecordingURL,
			RecordedAt:   row.RecordedAt,
		}
	}); ok {
		e.persistQuestion(ctx, q)
	}

	e.sendNotice(responseSavedNotice(&row))
	return &row, nil
}

func (e *Engine) removeOrphan(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if !e.removeOrphans {
		e.logger.Warn("orphaned recording left in storage", "bucket", e.bucket, "path", path)
		return
	}
	if err := e.objects.Remove(ctx, e.bucket, path); err != nil {
		e.logger.Warn("failed to remove orphaned recording", "bucket", e.bucket, "path", path, "error", err)
	}
}

// SaveAnalysis attaches an analysis to every response of questionID. A second call overwrites the first.
func (e *Engine) SaveAnalysis(ctx context.Context, questionID string, analysis models.Analysis) error {
	rating := analysis.OverallRating()
	patch := models.AnalysisUpdate{
		Analyzed:  true,
		Analysis:  analysis,
		Rating:    rating,
		UpdatedAt: e.now(),
	}

	n, err := e.store.Update(ctx, services.From(models.TableResponses).Eq("question_id", questionID), patch)
	if err != nil {
		e.logger.Error("error saving analysis", "question_id", questionID, "error", err)
		return fmt.Errorf("%w: %w", shared.ErrPersist, err)
	}
	if n == 0 {
		e.logger.Warn("analysis matched no response", "question_id", questionID)
	}

	if q, ok := e.markQuestion(questionID, func(q *models.Question) {
		q.Analyzed = true
		q.Rating = rating
	}); ok {
		e.persistQuestion(ctx, q)
	}

	e.sendNotice(analysisSavedNotice(questionID))
	return nil
}

// markQuestion applies fn to the local question with id and returns the result.
func (e *Engine) markQuestion(id string, fn func(q *models.Question)) (models.Question, bool) {
	var (
		updated models.Question
		found   bool
	)
	e.ws.Update(func(s *State) {
		i := questionIndex(s.Questions, id)
		if i < 0 {
			return
		}
		fn(&s.Questions[i])
		updated, found = s.Questions[i], true
	})
	return updated, found
}
