package shared

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override config.toml values.
const (
	EnvURL         = "REHEARSE_URL"
	EnvAnonKey     = "REHEARSE_ANON_KEY"
	EnvDatabaseURL = "REHEARSE_DATABASE_URL"
	EnvRedisURL    = "REHEARSE_REDIS_URL"
	EnvAMQPURL     = "REHEARSE_AMQP_URL"
	EnvS3Endpoint  = "REHEARSE_S3_ENDPOINT"
	EnvS3AccessKey = "REHEARSE_S3_ACCESS_KEY_ID"
	EnvS3Secret    = "REHEARSE_S3_SECRET_ACCESS_KEY"
	EnvLogLevel    = "REHEARSE_LOG_LEVEL"
	EnvRPS         = "REHEARSE_REQUESTS_PER_SECOND"
)

// LoadEnvFiles loads variables from the given dotenv files into the process environment.
//
// Missing files are skipped. Variables already set in the environment win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides config values with any REHEARSE_* variables present in the environment.
func ApplyEnv(c *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString(EnvURL, &c.Backend.URL)
	setString(EnvAnonKey, &c.Backend.AnonKey)
	setString(EnvDatabaseURL, &c.Store.DatabaseURL)
	setString(EnvRedisURL, &c.Feed.RedisURL)
	setString(EnvAMQPURL, &c.Feed.AMQPURL)
	setString(EnvS3Endpoint, &c.Storage.S3.Endpoint)
	setString(EnvS3AccessKey, &c.Storage.S3.AccessKeyID)
	setString(EnvS3Secret, &c.Storage.S3.SecretAccessKey)
	setString(EnvLogLevel, &c.Log.Level)

	if v, ok := os.LookupEnv(EnvRPS); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvRPS, v)
		}
		c.Backend.RequestsPerSecond = rps
	}

	return nil
}
