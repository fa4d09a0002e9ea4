package shared

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/sqlite/*.sql
var localMigrations embed.FS

//go:embed sql/postgres/*.sql
var remoteMigrations embed.FS

// MigrationResult is a single applied or rolled back migration.
type MigrationResult struct {
	Version  int64
	Source   string
	Duration string
}

func newProvider(db *sql.DB, dialect goose.Dialect, fsys embed.FS, dir string) (*goose.Provider, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration directory: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

func toResults(rs []*goose.MigrationResult) []MigrationResult {
	out := make([]MigrationResult, 0, len(rs))
	for _, r := range rs {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, MigrationResult{
			Version:  r.Source.Version,
			Source:   r.Source.Path,
			Duration: r.Duration.String(),
		})
	}
	return out
}

// RunMigrations applies all pending local cache migrations to the SQLite database.
func RunMigrations(db *sql.DB) error {
	_, err := RunMigrationsContext(context.Background(), db)
	return err
}

// RunMigrationsContext applies pending local migrations and reports what ran.
func RunMigrationsContext(ctx context.Context, db *sql.DB) ([]MigrationResult, error) {
	provider, err := newProvider(db, goose.DialectSQLite3, localMigrations, "sql/sqlite")
	if err != nil {
		return nil, err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return toResults(results), nil
}

// RollbackMigration rolls back the most recent local migration.
func RollbackMigration(db *sql.DB) error {
	ctx := context.Background()
	provider, err := newProvider(db, goose.DialectSQLite3, localMigrations, "sql/sqlite")
	if err != nil {
		return err
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if version == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	if _, err := provider.Down(ctx); err != nil {
		return fmt.Errorf("failed to rollback migration %d: %w", version, err)
	}
	return nil
}

// MigrationVersion returns the current local schema version.
func MigrationVersion(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := newProvider(db, goose.DialectSQLite3, localMigrations, "sql/sqlite")
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

// RunRemoteMigrations provisions the backend tables on a Postgres database reachable at databaseURL.
func RunRemoteMigrations(ctx context.Context, databaseURL string) ([]MigrationResult, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%w: database url", ErrMissingArgument)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	provider, err := newProvider(db, goose.DialectPostgres, remoteMigrations, "sql/postgres")
	if err != nil {
		return nil, err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run remote migrations: %w", err)
	}
	return toResults(results), nil
}

// RemoteMigrationSources lists the embedded backend schema files in apply order.
func RemoteMigrationSources() ([]string, error) {
	entries, err := fs.ReadDir(remoteMigrations, "sql/postgres")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
