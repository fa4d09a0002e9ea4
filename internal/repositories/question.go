package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
)

// QuestionRepository persists the question slots of a session.
type QuestionRepository struct {
	db *sql.DB
}

// NewQuestionRepository creates a new [QuestionRepository] with the given database connection
func NewQuestionRepository(db *sql.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// replaceTx swaps the stored list for questions inside tx. Only one session's questions are kept.
func (r *QuestionRepository) replaceTx(ctx context.Context, tx *sql.Tx, sessionID string, questions []models.Question) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions`); err != nil {
		return fmt.Errorf("failed to clear questions: %w", err)
	}
	if sessionID == "" {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO questions (id, session_id, position, prompt, recording_type, duration, recording_url, recorded_at, analyzed, rating, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare question insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, q := range questions {
		args := questionArgs(q)
		if _, err := stmt.ExecContext(ctx, append([]any{q.ID, sessionID, q.Position, q.Prompt}, append(args, now)...)...); err != nil {
			return fmt.Errorf("failed to insert question %s: %w", q.ID, err)
		}
	}
	return nil
}

// questionArgs flattens the answer and analysis columns.
func questionArgs(q models.Question) []any {
	var (
		recType    sql.NullString
		duration   sql.NullInt64
		url        sql.NullString
		recordedAt sql.NullTime
		rating     sql.NullFloat64
	)
	if a := q.UserResponse; a != nil {
		recType = sql.NullString{String: string(a.Type), Valid: true}
		duration = sql.NullInt64{Int64: int64(a.Duration), Valid: true}
		url = sql.NullString{String: a.RecordingURL, Valid: true}
		recordedAt = nullTime(a.RecordedAt)
	}
	if q.Rating != nil {
		rating = sql.NullFloat64{Float64: *q.Rating, Valid: true}
	}
	return []any{recType, duration, url, recordedAt, q.Analyzed, rating}
}

// ListBySession returns the session's questions in position order.
func (r *QuestionRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Question, error) {
	query := `
		SELECT id, session_id, position, prompt, recording_type, duration, recording_url, recorded_at, analyzed, rating
		FROM questions
		WHERE session_id = ?
		ORDER BY position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var (
			q          models.Question
			recType    sql.NullString
			duration   sql.NullInt64
			url        sql.NullString
			recordedAt sql.NullTime
			rating     sql.NullFloat64
		)

		err := rows.Scan(&q.ID, &q.SessionID, &q.Position, &q.Prompt, &recType, &duration, &url, &recordedAt, &q.Analyzed, &rating)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}

		if recType.Valid {
			q.UserResponse = &models.RecordedAnswer{
				Type:         models.RecordingType(recType.String),
				Duration:     int(duration.Int64),
				RecordingURL: url.String,
			}
			if recordedAt.Valid {
				q.UserResponse.RecordedAt = recordedAt.Time
			}
		}
		if rating.Valid {
			v := rating.Float64
			q.Rating = &v
		}

		questions = append(questions, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return questions, nil
}

// Update writes the answer and analysis state of one question.
func (r *QuestionRepository) Update(ctx context.Context, q models.Question) error {
	query := `
		UPDATE questions
		SET recording_type = ?, duration = ?, recording_url = ?, recorded_at = ?, analyzed = ?, rating = ?, updated_at = ?
		WHERE id = ?
	`

	args := append(questionArgs(q), time.Now().UTC(), q.ID)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: question %s", shared.ErrNotFound, q.ID)
	}
	return nil
}
