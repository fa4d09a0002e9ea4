package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
	"golang.org/x/oauth2"
)

// AuthSessionRepository stores the single signed-in identity.
type AuthSessionRepository struct {
	db *sql.DB
}

// NewAuthSessionRepository creates a new [AuthSessionRepository] with the given database connection
func NewAuthSessionRepository(db *sql.DB) *AuthSessionRepository {
	return &AuthSessionRepository{db: db}
}

// Save replaces the stored session.
func (r *AuthSessionRepository) Save(ctx context.Context, s models.AuthSession) error {
	if s.UserID == "" || s.Token == nil || s.Token.AccessToken == "" {
		return fmt.Errorf("%w: auth session needs a user id and access token", shared.ErrInvalidArgument)
	}

	query := `
		INSERT INTO auth_sessions (id, user_id, email, access_token, refresh_token, token_type, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	tokenType := s.Token.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	_, err := r.db.ExecContext(ctx, query,
		s.UserID, s.Email, s.Token.AccessToken, s.Token.RefreshToken, tokenType, nullTime(s.Token.Expiry), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}
	return nil
}

// Load returns the stored session or [shared.ErrNotFound].
func (r *AuthSessionRepository) Load(ctx context.Context) (*models.AuthSession, error) {
	query := `
		SELECT user_id, email, access_token, refresh_token, token_type, expires_at
		FROM auth_sessions
		WHERE id = 1
	`

	var (
		s         models.AuthSession
		tok       oauth2.Token
		expiresAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query).Scan(&s.UserID, &s.Email, &tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no stored session", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query auth session: %w", err)
	}

	if expiresAt.Valid {
		tok.Expiry = expiresAt.Time
	}
	s.Token = &tok
	return &s, nil
}
