package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
)

// WorkspaceRepository persists the active context as a single row of JSON columns.
type WorkspaceRepository struct {
	db *sql.DB
}

// NewWorkspaceRepository creates a new [WorkspaceRepository] with the given database connection
func NewWorkspaceRepository(db *sql.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// saveTx writes the context row inside tx.
func (r *WorkspaceRepository) saveTx(ctx context.Context, tx *sql.Tx, s models.Snapshot) error {
	user, err := jsonColumn(s.User)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	pkg, err := jsonColumn(s.Package)
	if err != nil {
		return fmt.Errorf("failed to encode package: %w", err)
	}
	voucher, err := jsonColumn(s.Voucher)
	if err != nil {
		return fmt.Errorf("failed to encode voucher: %w", err)
	}
	session, err := jsonColumn(s.Session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	query := `
		INSERT INTO workspace (id, user_json, package_json, voucher_json, session_json, cursor, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_json = excluded.user_json,
			package_json = excluded.package_json,
			voucher_json = excluded.voucher_json,
			session_json = excluded.session_json,
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`

	if _, err := tx.ExecContext(ctx, query, user, pkg, voucher, session, s.Cursor, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	return nil
}

// Load reads the context row. A missing row is [shared.ErrNotFound].
func (r *WorkspaceRepository) Load(ctx context.Context) (*models.Snapshot, error) {
	query := `
		SELECT user_json, package_json, voucher_json, session_json, cursor
		FROM workspace
		WHERE id = 1
	`

	var (
		userCol, pkgCol, voucherCol, sessionCol sql.NullString
		s                                       models.Snapshot
	)

	err := r.db.QueryRowContext(ctx, query).Scan(&userCol, &pkgCol, &voucherCol, &sessionCol, &s.Cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no stored workspace", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workspace: %w", err)
	}

	if s.User, err = fromJSONColumn[models.User](userCol); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if s.Package, err = fromJSONColumn[models.Package](pkgCol); err != nil {
		return nil, fmt.Errorf("failed to decode package: %w", err)
	}
	if s.Voucher, err = fromJSONColumn[models.Voucher](voucherCol); err != nil {
		return nil, fmt.Errorf("failed to decode voucher: %w", err)
	}
	if s.Session, err = fromJSONColumn[models.Session](sessionCol); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	return &s, nil
}
