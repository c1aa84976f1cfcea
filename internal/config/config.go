// Package config loads and validates the mailcast configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Provider  ProviderConfig  `yaml:"provider"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// APIKey guards the management routes. Empty disables auth (local dev).
	APIKey string `yaml:"api_key"`
}

// DatabaseConfig contains Postgres settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ProviderConfig contains transactional email provider settings.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates provider calls. Empty selects the sandbox sender:
	// sends are captured locally instead of reaching the provider.
	APIKey string `yaml:"api_key"`
}

// BroadcastConfig contains settings for composed broadcasts.
type BroadcastConfig struct {
	FromAddress    string `yaml:"from_address"`
	UnsubscribeURL string `yaml:"unsubscribe_url"`
}

// SandboxConfig contains the local capture store settings.
type SandboxConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file, applies environment overrides
// for secrets, fills defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("MAILCAST_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("MAILCAST_PROVIDER_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("MAILCAST_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.resend.com"
	}
	if c.Sandbox.Path == "" {
		c.Sandbox.Path = "data/sandbox.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for fatal problems. A missing provider
// API key is deliberately not one of them.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Broadcast.FromAddress == "" {
		return fmt.Errorf("broadcast.from_address is required")
	}
	if c.Broadcast.UnsubscribeURL == "" {
		return fmt.Errorf("broadcast.unsubscribe_url is required")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
