// package repositories provides the SQLite persistence for the local state cache.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// withTx runs fn inside a transaction, committing when it returns nil.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// jsonColumn encodes v for a nullable TEXT column. nil pointers become NULL.
func jsonColumn[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// fromJSONColumn decodes a nullable TEXT column written by jsonColumn.
func fromJSONColumn[T any](col sql.NullString) (*T, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
