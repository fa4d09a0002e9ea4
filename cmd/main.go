package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "config.toml"

func main() {
	logger := shared.NewLogger(nil)

	if err := shared.LoadEnvFiles(".env", ".env.local"); err != nil {
		logger.Warn("failed to load env file", "error", err)
	}

	configPath := os.Getenv("REHEARSE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	config := shared.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if loadedConfig, err := shared.LoadConfig(configPath); err == nil {
			config = loadedConfig
		} else {
			logger.Warn("failed to load config, using defaults", "path", configPath, "error", err)
		}
	}
	if err := shared.ApplyEnv(config); err != nil {
		logger.Fatalf("invalid environment: %v", err)
	}
	shared.SetLogLevel(logger, shared.ParseLogLevel(config.Log.Level))

	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: configPath,
		Logger:     logger,
	})

	app := &cli.Command{
		Name:     "rehearse",
		Usage:    "Practice interview questions against a hosted backend",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	err := app.Run(context.Background(), os.Args)
	if cerr := runner.Close(); cerr != nil {
		logger.Warn("failed to release connections", "error", cerr)
	}
	if err != nil {
		if errors.Is(err, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		}
		logger.Fatalf("application error: %v", err)
	}
}
