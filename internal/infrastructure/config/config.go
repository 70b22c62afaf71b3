package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all client configuration. Precedence is defaults, then
// an optional YAML file, then SHELLMUX_* environment variables.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Resize     ResizeConfig     `yaml:"resize"`
	Credential CredentialConfig `yaml:"credential"`
	Debug      DebugConfig      `yaml:"debug"`
	Logging    LogConfig        `envconfig:"LOG" yaml:"logging"`
}

// ServerConfig holds shell server endpoint configuration.
type ServerConfig struct {
	// URL is the websocket endpoint of the shell server.
	URL string `yaml:"url"`
	// Probe enables an HTTP reachability check before the first dial.
	Probe bool `yaml:"probe"`
	// ProbeTimeout bounds a single probe request.
	ProbeTimeout time.Duration `split_words:"true" yaml:"probe_timeout"`
}

// ReconnectConfig holds transport retry configuration.
type ReconnectConfig struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `split_words:"true" yaml:"initial_delay"`
	// MaxDelay caps the backoff between retries.
	MaxDelay time.Duration `split_words:"true" yaml:"max_delay"`
	// MaxAttempts limits consecutive failed dials; 0 means unbounded.
	MaxAttempts int `split_words:"true" yaml:"max_attempts"`
	// HandshakeTimeout bounds a single websocket dial.
	HandshakeTimeout time.Duration `split_words:"true" yaml:"handshake_timeout"`
}

// ResizeConfig holds size-reconciliation tuning.
type ResizeConfig struct {
	// SettleDelay separates the two fit measurements.
	SettleDelay time.Duration `split_words:"true" yaml:"settle_delay"`
	// Debounce coalesces window-resize bursts into one pass.
	Debounce time.Duration `yaml:"debounce"`
	// VisibilityDelay postpones the pass after visibility is restored.
	VisibilityDelay time.Duration `split_words:"true" yaml:"visibility_delay"`
	// RatePerSecond caps resize notifications sent to the server.
	RatePerSecond int `split_words:"true" yaml:"rate_per_second"`
	// Burst is the rate limiter burst size.
	Burst int `yaml:"burst"`
}

// CredentialConfig holds token persistence configuration.
type CredentialConfig struct {
	// Path overrides the default credential file location.
	Path string `yaml:"path"`
}

// DebugConfig holds the local debug/metrics server configuration.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `envconfig:"DEV" yaml:"development"`
}

// Load loads configuration from SHELLMUX_-prefixed environment
// variables on top of the defaults. Nested sections contribute their
// segment to the variable name, so Server.URL reads
// SHELLMUX_SERVER_URL.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("SHELLMUX", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from a YAML file, then applies
// environment overrides on top.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := envconfig.Process("SHELLMUX", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:          "ws://localhost:5000/shell",
			Probe:        true,
			ProbeTimeout: 5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			InitialDelay:     time.Second,
			MaxDelay:         10 * time.Second,
			MaxAttempts:      0,
			HandshakeTimeout: 20 * time.Second,
		},
		Resize: ResizeConfig{
			SettleDelay:     100 * time.Millisecond,
			Debounce:        100 * time.Millisecond,
			VisibilityDelay: 100 * time.Millisecond,
			RatePerSecond:   20,
			Burst:           10,
		},
		Debug: DebugConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9190",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
