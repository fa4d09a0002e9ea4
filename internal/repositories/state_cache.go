package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
)

// StateCache implements tasks.Persister on top of the auth session, workspace and question repositories.
//
// Snapshot writes touch the workspace row and the question list in one transaction so a resumed process never
// sees a session without its questions.
type StateCache struct {
	db        *sql.DB
	auth      *AuthSessionRepository
	workspace *WorkspaceRepository
	questions *QuestionRepository
}

// NewStateCache creates a new StateCache backed by db.
func NewStateCache(db *sql.DB) *StateCache {
	return &StateCache{
		db:        db,
		auth:      NewAuthSessionRepository(db),
		workspace: NewWorkspaceRepository(db),
		questions: NewQuestionRepository(db),
	}
}

func (c *StateCache) SaveAuth(ctx context.Context, s models.AuthSession) error {
	return c.auth.Save(ctx, s)
}

// LoadAuth returns nil without error when no session is stored.
func (c *StateCache) LoadAuth(ctx context.Context) (*models.AuthSession, error) {
	s, err := c.auth.Load(ctx)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	return s, err
}

// SaveSnapshot stores the context row and replaces the question list.
func (c *StateCache) SaveSnapshot(ctx context.Context, s models.Snapshot) error {
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		if err := c.workspace.saveTx(ctx, tx, s); err != nil {
			return err
		}
		sessionID := ""
		if s.Session != nil {
			sessionID = s.Session.ID
		}
		return c.questions.replaceTx(ctx, tx, sessionID, s.Questions)
	})
}

// SaveQuestion writes a single question without touching the rest of the snapshot.
func (c *StateCache) SaveQuestion(ctx context.Context, q models.Question) error {
	return c.questions.Update(ctx, q)
}

// LoadSnapshot returns an empty snapshot when nothing is stored.
func (c *StateCache) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	s, err := c.workspace.Load(ctx)
	if errors.Is(err, shared.ErrNotFound) {
		return &models.Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	if s.Session != nil && s.Session.ID != "" {
		if s.Questions, err = c.questions.ListBySession(ctx, s.Session.ID); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Clear removes the auth session, the workspace row and every question.
func (c *StateCache) Clear(ctx context.Context) error {
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		for _, table := range []string{"auth_sessions", "workspace", "questions"} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}
