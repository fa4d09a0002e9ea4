package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/urfave/cli/v3"
)

// loadConfigAt reads the config at path, creating it from the template when it does not exist.
func (r *Runner) loadConfigAt(path string) *shared.Config {
	var config *shared.Config
	if _, err := os.Stat(path); err == nil {
		if config, err = shared.LoadConfig(path); err != nil {
			r.logger.Warn("failed to load config, using defaults", "error", err)
			config = shared.DefaultConfig()
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", path)
		if err := shared.CreateConfigFile(path); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
			config = shared.DefaultConfig()
		} else {
			r.logger.Info("config file created", "path", path)
			if config, err = shared.LoadConfig(path); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
				config = shared.DefaultConfig()
			}
		}
	}

	if err := shared.ApplyEnv(config); err != nil {
		r.logger.Warn("ignoring invalid environment override", "error", err)
	}
	return config
}

// SetupConfig writes config.toml from the embedded template and reports whether it is usable.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("%w: %s already exists (use --force to overwrite)", shared.ErrInvalidArgument, path)
	} else if err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to replace config: %w", err)
		}
	}

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.writePlain("✓ Config written to %s\n", path)

	config, err := shared.LoadConfig(path)
	if err != nil {
		return err
	}
	if err := shared.ApplyEnv(config); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		r.writePlain("! %v\n", err)
	}
	r.writePlain("Edit [backend] url and anon_key, or set %s and %s.\n", shared.EnvURL, shared.EnvAnonKey)
	return nil
}

// SetupDatabase initializes the local state database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfigAt(cmd.String("config"))

	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if cmd.Bool("rollback") {
		r.logger.Info("rolling back last migration")
		if err := shared.RollbackMigration(db); err != nil {
			return err
		}
	} else {
		r.logger.Info("running database migrations")
		results, err := shared.RunMigrationsContext(ctx, db)
		if err != nil {
			return err
		}
		for _, m := range results {
			r.logger.Debug("applied migration", "version", m.Version, "source", m.Source, "duration", m.Duration)
		}
	}

	version, err := shared.MigrationVersion(ctx, db)
	if err != nil {
		return err
	}
	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	return r.writePlain("✓ Local database %s at schema version %d\n", config.Database.Path, version)
}

// SetupSchema provisions the backend tables on a Postgres database.
func (r *Runner) SetupSchema(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("list") {
		sources, err := shared.RemoteMigrationSources()
		if err != nil {
			return err
		}
		for _, s := range sources {
			r.writePlain("%s\n", s)
		}
		return nil
	}

	url := cmd.String("database-url")
	if url == "" {
		url = r.config.Store.DatabaseURL
	}
	if url == "" {
		return fmt.Errorf("%w: --database-url or %s", shared.ErrMissingArgument, shared.EnvDatabaseURL)
	}

	r.logger.Info("provisioning backend schema")
	results, err := shared.RunRemoteMigrations(ctx, url)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return r.writePlain("✓ Backend schema is up to date\n")
	}
	for _, m := range results {
		r.writePlain("✓ %s (%s)\n", m.Source, m.Duration)
	}
	return nil
}
