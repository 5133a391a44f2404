// ABOUTME: Configuration loading and parsing for perch-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete perch-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Relay     RelayConfig     `yaml:"relay"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve TLS with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RelayConfig holds relay room limits
type RelayConfig struct {
	// MaxMobilesPerUser caps the mobile slot set of each user's room.
	MaxMobilesPerUser int `yaml:"max_mobiles_per_user"`
}

// SessionsConfig holds agent session limits and defaults
type SessionsConfig struct {
	// MaxRunningPerUser caps concurrent running sessions per identity.
	MaxRunningPerUser int `yaml:"max_running_per_user"`

	// WorkspaceRoot is the directory containing workspace subdirectories.
	WorkspaceRoot string `yaml:"workspace_root"`

	// DefaultModel is used when a session create request omits the model.
	DefaultModel string `yaml:"default_model"`
}

// RuntimeConfig holds agent runtime process configuration
type RuntimeConfig struct {
	// Command is the agent runtime executable invoked per session.
	Command string `yaml:"command"`

	// Args are passed to the command before runtime-supplied flags.
	Args []string `yaml:"args"`

	StartTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	StartTimeoutRaw string `yaml:"start_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied by Load when the config omits a value.
const (
	DefaultMaxMobilesPerUser = 4
	DefaultMaxRunningPerUser = 5
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in capacity limits that the config file omitted.
func (c *Config) applyDefaults() {
	if c.Relay.MaxMobilesPerUser <= 0 {
		c.Relay.MaxMobilesPerUser = DefaultMaxMobilesPerUser
	}
	if c.Sessions.MaxRunningPerUser <= 0 {
		c.Sessions.MaxRunningPerUser = DefaultMaxRunningPerUser
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Relay and session auth are token-based; there is no anonymous mode.
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Sessions.WorkspaceRoot == "" {
		return fmt.Errorf("sessions.workspace_root is required")
	}

	if c.Runtime.Command == "" {
		return fmt.Errorf("runtime.command is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Runtime.StartTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Runtime.StartTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing start_timeout %q: %w", cfg.Runtime.StartTimeoutRaw, err)
		}
		cfg.Runtime.StartTimeout = d
	}

	return nil
}
