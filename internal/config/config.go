// ABOUTME: Configuration loading and parsing for jesseverse
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default extension call settings, applied when the config leaves them unset.
const (
	DefaultInfoTimeout         = 10 * time.Second
	DefaultCapabilitiesTimeout = 10 * time.Second
	DefaultExecuteTimeout      = 30 * time.Second
	DefaultMaxConcurrency      = 8
)

// Config represents the complete jesseverse configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Extensions ExtensionsConfig `yaml:"extensions" toml:"extensions"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve :443 with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds the credentials guarding the hub.
type AuthConfig struct {
	// MCPToken is the static bearer token MCP clients must present on POST /mcp.
	MCPToken string `yaml:"mcp_token" toml:"mcp_token"`
	// APIKey guards registry writes via the X-API-Key header.
	APIKey string `yaml:"api_key" toml:"api_key"`
	// JWTSecret enables HS256 bearer tokens as an alternative to the API key.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ExtensionsConfig holds timing and fan-out settings for calls to extensions.
type ExtensionsConfig struct {
	InfoTimeout         time.Duration `yaml:"-" toml:"-"`
	CapabilitiesTimeout time.Duration `yaml:"-" toml:"-"`
	ExecuteTimeout      time.Duration `yaml:"-" toml:"-"`

	// MaxConcurrency bounds the capability fan-out in list_extensions.
	MaxConcurrency int `yaml:"max_concurrency" toml:"max_concurrency"`

	// RefreshSchedule is a cron spec for re-reading /info metadata. Empty disables it.
	RefreshSchedule string `yaml:"refresh_schedule" toml:"refresh_schedule"`

	// Raw string values for unmarshaling
	InfoTimeoutRaw         string `yaml:"info_timeout" toml:"info_timeout"`
	CapabilitiesTimeoutRaw string `yaml:"capabilities_timeout" toml:"capabilities_timeout"`
	ExecuteTimeoutRaw      string `yaml:"execute_timeout" toml:"execute_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, formatForPath(path))
}

// Format identifies the encoding of a config document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, defaults and validates a config document.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Extensions.InfoTimeout == 0 {
		c.Extensions.InfoTimeout = DefaultInfoTimeout
	}
	if c.Extensions.CapabilitiesTimeout == 0 {
		c.Extensions.CapabilitiesTimeout = DefaultCapabilitiesTimeout
	}
	if c.Extensions.ExecuteTimeout == 0 {
		c.Extensions.ExecuteTimeout = DefaultExecuteTimeout
	}
	if c.Extensions.MaxConcurrency == 0 {
		c.Extensions.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) applyEnvOverrides() {
	if envPath := os.Getenv("JESSEVERSE_DB_PATH"); envPath != "" {
		c.Database.Path = envPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.MCPToken == "" {
		return fmt.Errorf("auth.mcp_token is required")
	}

	if c.Extensions.MaxConcurrency < 1 {
		return fmt.Errorf("extensions.max_concurrency must be at least 1, got %d", c.Extensions.MaxConcurrency)
	}

	for name, d := range map[string]time.Duration{
		"info_timeout":         c.Extensions.InfoTimeout,
		"capabilities_timeout": c.Extensions.CapabilitiesTimeout,
		"execute_timeout":      c.Extensions.ExecuteTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("extensions.%s must not be negative", name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"info_timeout", cfg.Extensions.InfoTimeoutRaw, &cfg.Extensions.InfoTimeout},
		{"capabilities_timeout", cfg.Extensions.CapabilitiesTimeoutRaw, &cfg.Extensions.CapabilitiesTimeout},
		{"execute_timeout", cfg.Extensions.ExecuteTimeoutRaw, &cfg.Extensions.ExecuteTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
