// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete process configuration. Owner-scoped AI
// settings (API key, models) live in the database, not here.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Build    BuildConfig    `mapstructure:"build" yaml:"build"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DatabaseConfig contains SQLite configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// BuildConfig contains vector build limits.
type BuildConfig struct {
	Workers int           `mapstructure:"workers" yaml:"workers"` // parallel embedding calls per build
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"` // per-build deadline
}

// ProviderConfig contains upstream HTTP client configuration.
type ProviderConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"` // non-streaming request timeout
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8090",
		},
		Database: DatabaseConfig{
			Path: "journalmind.db",
		},
		Build: BuildConfig{
			Workers: 4,
			Timeout: 10 * time.Minute,
		},
		Provider: ProviderConfig{
			Timeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from path, falling back to defaults when the file
// does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Build.Workers <= 0 {
		cfg.Build.Workers = 4
	}
	if cfg.Build.Timeout <= 0 {
		cfg.Build.Timeout = 10 * time.Minute
	}

	return cfg, nil
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server.addr must not be empty"))
	}
	if cfg.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path must not be empty"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", cfg.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Errorf("invalid log format: %s", cfg.Logging.Format))
	}

	return errs
}
