// Package config provides configuration management for appforge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for appforge.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Preview  PreviewConfig  `mapstructure:"preview"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds the SQLite database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AgentConfig holds coding-agent invocation configuration.
type AgentConfig struct {
	// ClaudeBinary is the Claude CLI executable name or path.
	ClaudeBinary string `mapstructure:"claudeBinary"`

	// CursorBinary is the Cursor Agent CLI executable name or path.
	CursorBinary string `mapstructure:"cursorBinary"`

	// AvailabilityTimeout bounds the CLI availability probe, in seconds.
	AvailabilityTimeout int `mapstructure:"availabilityTimeout"`
}

// PreviewConfig holds live-preview dev server configuration.
type PreviewConfig struct {
	PortStart      int    `mapstructure:"portStart"`
	PortEnd        int    `mapstructure:"portEnd"`
	InstallTimeout int    `mapstructure:"installTimeout"` // in seconds
	LockStaleAfter int    `mapstructure:"lockStaleAfter"` // in seconds
	PackageManager string `mapstructure:"packageManager"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// AvailabilityTimeoutDuration returns the availability probe timeout as a time.Duration.
func (a *AgentConfig) AvailabilityTimeoutDuration() time.Duration {
	return time.Duration(a.AvailabilityTimeout) * time.Second
}

// InstallTimeoutDuration returns the dependency install timeout as a time.Duration.
func (p *PreviewConfig) InstallTimeoutDuration() time.Duration {
	return time.Duration(p.InstallTimeout) * time.Second
}

// LockStaleDuration returns the install lock staleness threshold as a time.Duration.
func (p *PreviewConfig) LockStaleDuration() time.Duration {
	return time.Duration(p.LockStaleAfter) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("APPFORGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "~/.appforge/appforge.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "appforge")
	v.SetDefault("nats.maxReconnects", 10)

	// Agent defaults
	v.SetDefault("agent.claudeBinary", "claude")
	v.SetDefault("agent.cursorBinary", "cursor-agent")
	v.SetDefault("agent.availabilityTimeout", 10)

	// Preview defaults
	v.SetDefault("preview.portStart", 3100)
	v.SetDefault("preview.portEnd", 3999)
	v.SetDefault("preview.installTimeout", 120)
	v.SetDefault("preview.lockStaleAfter", 600)
	v.SetDefault("preview.packageManager", "npm")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix APPFORGE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/appforge/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("APPFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/appforge/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if cfg.Preview.PortStart >= cfg.Preview.PortEnd {
		errs = append(errs, "preview.portStart must be less than preview.portEnd")
	}
	if cfg.Preview.PortStart < 1024 {
		errs = append(errs, "preview.portStart should be >= 1024 (non-privileged ports)")
	}
	if cfg.Preview.InstallTimeout <= 0 {
		errs = append(errs, "preview.installTimeout must be positive")
	}
	if cfg.Preview.LockStaleAfter <= 0 {
		errs = append(errs, "preview.lockStaleAfter must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
