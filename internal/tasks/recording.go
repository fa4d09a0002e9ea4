package tasks

import (
	"context"
	"fmt"
	"io"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
)

// Recording is a captured answer ready for upload.
type Recording struct {
	Body       io.Reader
	Type       models.RecordingType
	QuestionID string
}

// RecordingPath names the object for a recording: {userId}/{sessionId}/{questionId}_{epochMillis}.webm
func RecordingPath(userID, sessionID, questionID string, millis int64) string {
	return fmt.Sprintf("%s/%s/%s_%d.webm", userID, sessionID, questionID, millis)
}

// Upload stores a recording under the active user and session and returns its public URL.
func (e *Engine) Upload(ctx context.Context, rec Recording) (string, error) {
	url, _, err := e.upload(ctx, rec)
	return url, err
}

func (e *Engine) upload(ctx context.Context, rec Recording) (url, path string, err error) {
	st := e.ws.Snapshot()
	if st.User == nil || st.Session == nil {
		return "", "", fmt.Errorf("%w: user not logged in or session not active for recording upload", shared.ErrAuth)
	}
	if _, err := models.ParseRecordingType(string(rec.Type)); err != nil {
		return "", "", fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	if rec.Body == nil {
		return "", "", fmt.Errorf("%w: empty recording", shared.ErrValidation)
	}

	path = RecordingPath(st.User.ID, st.Session.ID, rec.QuestionID, e.now().UnixMilli())
	opts := services.UploadOptions{ContentType: rec.Type.ContentType(), Upsert: false}

	logger := e.logger.With("bucket", e.bucket, "path", path)
	if err := e.objects.Upload(ctx, e.bucket, path, rec.Body, opts); err != nil {
		logger.Error("error uploading recording", "error", err)
		return "", "", fmt.Errorf("%w: %w", shared.ErrUpload, err)
	}

	url, err = e.objects.PublicURL(e.bucket, path)
	if err != nil {
		logger.Error("error resolving public URL", "error", err)
		return "", path, fmt.Errorf("%w: failed to get public URL for recording: %w", shared.ErrUpload, err)
	}
	if url == "" {
		return "", path, fmt.Errorf("%w: failed to get public URL for recording", shared.ErrUpload)
	}

	logger.Debug("recording uploaded", "url", url)
	return url, path, nil
}
