// Package config handles reading and writing the hub's config.yaml in the
// runtime directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for config.yaml.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Inbox         InboxConfig         `yaml:"inbox"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig controls the hub's HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"` // 0 picks a free port
}

// DatabaseConfig locates the SQLite database. Empty means
// <runtime dir>/sessionbus.db.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// InboxConfig bounds long-poll timeouts, in seconds.
type InboxConfig struct {
	DefaultPollSeconds int `yaml:"default_poll_seconds"`
	MaxPollSeconds     int `yaml:"max_poll_seconds"`
}

// DefaultPollDuration returns the default long-poll wait as a duration.
func (c InboxConfig) DefaultPollDuration() time.Duration {
	return time.Duration(c.DefaultPollSeconds) * time.Second
}

// MaxPollDuration returns the long-poll ceiling as a duration.
func (c InboxConfig) MaxPollDuration() time.Duration {
	return time.Duration(c.MaxPollSeconds) * time.Second
}

// NotificationsConfig toggles desktop notifications on request creation.
type NotificationsConfig struct {
	Desktop bool `yaml:"desktop"`
}

const configFile = "config.yaml"

// DefaultConfig returns the configuration used when no config.yaml exists.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Inbox: InboxConfig{
			DefaultPollSeconds: 30,
			MaxPollSeconds:     120,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
	}
}

// ReadConfig reads config.yaml from the given runtime directory.
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// WriteConfig writes cfg to config.yaml in the given runtime directory.
// Creates the directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating runtime directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dir, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// LoadOrDefault reads config.yaml, falling back to defaults when absent and
// filling in zero values field by field.
func LoadOrDefault(dir string) *Config {
	cfg, err := ReadConfig(dir)
	if err != nil {
		return DefaultConfig()
	}

	defaults := DefaultConfig()
	if cfg.Inbox.MaxPollSeconds <= 0 {
		cfg.Inbox.MaxPollSeconds = defaults.Inbox.MaxPollSeconds
	}
	if cfg.Inbox.DefaultPollSeconds <= 0 {
		cfg.Inbox.DefaultPollSeconds = defaults.Inbox.DefaultPollSeconds
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	return cfg
}
