package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Backend  BackendConfig  `toml:"backend"`
	Store    StoreConfig    `toml:"store"`
	Storage  StorageConfig  `toml:"storage"`
	Feed     FeedConfig     `toml:"feed"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
}

// BackendConfig describes the hosted backend the client talks to.
type BackendConfig struct {
	URL               string  `toml:"url"`
	AnonKey           string  `toml:"anon_key"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	UserAgent         string  `toml:"user_agent"`
}

// Timeout returns the per-request timeout as a [time.Duration].
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// StoreConfig selects the relational store driver.
//
// Driver is "rest" (the backend's REST surface) or "postgres" (direct connection via DatabaseURL).
type StoreConfig struct {
	Driver      string `toml:"driver"`
	DatabaseURL string `toml:"database_url"`
}

// StorageConfig selects the object store driver and the recordings bucket.
type StorageConfig struct {
	Driver        string   `toml:"driver"`
	Bucket        string   `toml:"bucket"`
	RemoveOrphans bool     `toml:"remove_orphans"`
	S3            S3Config `toml:"s3"`
}

// S3Config contains settings for an S3-compatible object store.
type S3Config struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	PublicURL       string `toml:"public_url"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// FeedConfig selects the change feed transport.
//
// The "postgres" driver listens for the notifications sent by the schema's triggers. DatabaseURL defaults to
// store.database_url.
type FeedConfig struct {
	Driver      string `toml:"driver"`
	DatabaseURL string `toml:"database_url"`
	RedisURL    string `toml:"redis_url"`
	AMQPURL     string `toml:"amqp_url"`
	Exchange    string `toml:"exchange"`
}

// PostgresURL is the connection string used by the postgres feed driver.
func (f FeedConfig) PostgresURL(store StoreConfig) string {
	if f.DatabaseURL != "" {
		return f.DatabaseURL
	}
	return store.DatabaseURL
}

// DatabaseConfig contains local database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks driver names and the settings each driver needs.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "rest":
		if c.Backend.URL == "" {
			return fmt.Errorf("%w: backend.url is required for the rest store", ErrInvalidConfig)
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("%w: store.database_url is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}

	switch c.Storage.Driver {
	case "baas":
		if c.Backend.URL == "" {
			return fmt.Errorf("%w: backend.url is required for baas storage", ErrInvalidConfig)
		}
	case "s3":
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("%w: storage.s3.region is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("%w: storage.bucket is required", ErrInvalidConfig)
	}

	switch c.Feed.Driver {
	case "postgres":
		if c.Feed.PostgresURL(c.Store) == "" {
			return fmt.Errorf("%w: feed.database_url or store.database_url is required for the postgres feed", ErrInvalidConfig)
		}
	case "redis", "amqp", "none", "":
	default:
		return fmt.Errorf("%w: unknown feed driver %q", ErrInvalidConfig, c.Feed.Driver)
	}

	return nil
}
