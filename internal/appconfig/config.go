// Package appconfig manages application configuration and runtime file paths.
//
// Settings come from three layers, lowest precedence first: built-in
// defaults, config.yaml in the config directory, and SSHMUX_* environment
// variables. The merged result is read-only input to the core managers.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// UIConfig contains dashboard display settings.
type UIConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds" envconfig:"UI_REFRESH_SECONDS"`
}

// Config holds application-level configuration. Interval and timeout knobs
// are whole seconds/minutes/hours in the file; use the accessor methods for
// time.Duration values.
type Config struct {
	DefaultTimeoutSeconds    int  `yaml:"default_timeout_seconds" envconfig:"DEFAULT_TIMEOUT_SECONDS"`
	ConnectTimeoutSeconds    int  `yaml:"connect_timeout_seconds" envconfig:"CONNECT_TIMEOUT_SECONDS"`
	MaxConnections           int  `yaml:"max_connections" envconfig:"MAX_CONNECTIONS"`
	MaxSessions              int  `yaml:"max_sessions" envconfig:"MAX_SESSIONS"`
	ConnectionIdleMinutes    int  `yaml:"connection_idle_minutes" envconfig:"CONNECTION_IDLE_MINUTES"`
	SessionIdleHours         int  `yaml:"session_idle_hours" envconfig:"SESSION_IDLE_HOURS"`
	SweepIntervalSeconds     int  `yaml:"sweep_interval_seconds" envconfig:"SWEEP_INTERVAL_SECONDS"`
	KeepaliveIntervalSeconds int  `yaml:"keepalive_interval_seconds" envconfig:"KEEPALIVE_INTERVAL_SECONDS"`
	HistoryLimit             int  `yaml:"history_limit" envconfig:"HISTORY_LIMIT"`
	ShellBufferLimit         int  `yaml:"shell_buffer_limit" envconfig:"SHELL_BUFFER_LIMIT"`
	InsecureSkipHostKey      bool `yaml:"insecure_skip_host_key" envconfig:"INSECURE_SKIP_HOST_KEY"`

	UI UIConfig `yaml:"ui"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DefaultTimeoutSeconds:    30,
		ConnectTimeoutSeconds:    30,
		MaxConnections:           32,
		MaxSessions:              100,
		ConnectionIdleMinutes:    30,
		SessionIdleHours:         24,
		SweepIntervalSeconds:     60,
		KeepaliveIntervalSeconds: 60,
		HistoryLimit:             0, // unbounded
		ShellBufferLimit:         1 << 20,
		UI:                       UIConfig{RefreshSeconds: 3},
	}
}

func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c Config) ConnectionIdleTimeout() time.Duration {
	return time.Duration(c.ConnectionIdleMinutes) * time.Minute
}

func (c Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleHours) * time.Hour
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalSeconds) * time.Second
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/sshmux.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sshmux"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "sshmux"), nil
}

// EventsFilePath returns the full path to the lifecycle event journal.
func EventsFilePath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "events.jsonl"), nil
}

// ProfilesFilePath returns the full path to the connection profile store.
func ProfilesFilePath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "profiles.yaml"), nil
}

// Load reads config.yaml from the config directory, creating it with
// defaults if missing, then applies SSHMUX_* environment overrides.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process("sshmux", &cfg); err != nil {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}
	return clamp(cfg), nil
}

// clamp restores safe values for knobs that must stay positive.
func clamp(cfg Config) Config {
	def := Default()
	if cfg.DefaultTimeoutSeconds <= 0 {
		cfg.DefaultTimeoutSeconds = def.DefaultTimeoutSeconds
	}
	if cfg.ConnectTimeoutSeconds <= 0 {
		cfg.ConnectTimeoutSeconds = def.ConnectTimeoutSeconds
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.SweepIntervalSeconds <= 0 {
		cfg.SweepIntervalSeconds = def.SweepIntervalSeconds
	}
	if cfg.KeepaliveIntervalSeconds <= 0 {
		cfg.KeepaliveIntervalSeconds = def.KeepaliveIntervalSeconds
	}
	if cfg.ShellBufferLimit <= 0 {
		cfg.ShellBufferLimit = def.ShellBufferLimit
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = def.UI.RefreshSeconds
	}
	return cfg
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
