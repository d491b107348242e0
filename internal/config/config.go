// Package config loads the service configuration from a YAML file with
// environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	// Listen is the address the gateway binds to.
	Listen string `yaml:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// History selects and configures the session history backend.
	History HistoryConfig `yaml:"history"`

	// Target is the database the agent investigates.
	Target TargetConfig `yaml:"target"`

	// Provider configures the model collaborator.
	Provider ProviderConfig `yaml:"provider"`
}

// HistoryConfig selects the history store backend.
type HistoryConfig struct {
	// Backend is one of sqlite, postgres, memory.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file (backend: sqlite).
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string (backend: postgres).
	DSN string `yaml:"dsn"`
}

// TargetConfig points at the database the agent investigates.
type TargetConfig struct {
	DSN string `yaml:"dsn"`
}

// ProviderConfig configures the model collaborator.
type ProviderConfig struct {
	// Name is one of openai, anthropic.
	Name string `yaml:"name"`

	// APIKey authenticates with the provider. Usually set via environment
	// expansion, e.g. ${OPENAI_API_KEY}.
	APIKey string `yaml:"api_key"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   "127.0.0.1:8790",
		LogLevel: "info",
		History:  HistoryConfig{Backend: "sqlite", Path: "dbpilot.db"},
		Provider: ProviderConfig{Name: "openai"},
	}
}

// Load reads the configuration file at path, expanding ${VAR} references
// from the environment before parsing. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config must contain a single YAML document")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.History.Backend {
	case "sqlite":
		if c.History.Path == "" {
			return fmt.Errorf("history.path is required for the sqlite backend")
		}
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}

	switch c.Provider.Name {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}

	return nil
}
