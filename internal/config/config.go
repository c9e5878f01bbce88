// ABOUTME: Configuration loading and parsing for parley-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left unset.
const (
	DefaultRequestTimeout     = 30 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultHumanInterventions = 4
	DefaultStorageDriver      = "file"
	DefaultMetricsPath        = "/metrics"
)

// Config represents the complete parley-gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale"`
	Storage       StorageConfig       `yaml:"storage"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	GRPCAddr       string   `yaml:"grpc_addr"` // optional health endpoint
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// StorageConfig selects the transcript store
type StorageConfig struct {
	Driver string `yaml:"driver"` // file, sqlite, or memory
	Path   string `yaml:"path"`
}

// ConversationsConfig holds conversation timing and budget configuration
type ConversationsConfig struct {
	RequestTimeout time.Duration `yaml:"-"`
	WriteTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
	WriteTimeoutRaw   string `yaml:"write_timeout"`

	WorkspaceRoot string `yaml:"workspace_root"`

	// DefaultHumanInterventions applies when a create request omits the
	// count. Negative means unlimited.
	DefaultHumanInterventions *int `yaml:"default_human_interventions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultPath returns the path to the gateway config file.
// Priority: PARLEY_CONFIG env var > XDG_CONFIG_HOME/parley/gateway.yaml > ~/.config/parley/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv("PARLEY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "parley", "gateway.yaml")
}

// LoadDotEnv loads a .env file from the working directory into the process
// environment, if one exists. Variables already set are left alone.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML the same way Load does.
func Parse(data []byte) (*Config, error) {
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero-valued fields.
func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if c.Conversations.RequestTimeout == 0 {
		c.Conversations.RequestTimeout = DefaultRequestTimeout
	}
	if c.Conversations.WriteTimeout == 0 {
		c.Conversations.WriteTimeout = DefaultWriteTimeout
	}
	if c.Conversations.DefaultHumanInterventions == nil {
		n := DefaultHumanInterventions
		c.Conversations.DefaultHumanInterventions = &n
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// HumanInterventions returns the configured default budget.
func (c *Config) HumanInterventions() int {
	if c.Conversations.DefaultHumanInterventions == nil {
		return DefaultHumanInterventions
	}
	return *c.Conversations.DefaultHumanInterventions
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Storage.Driver {
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q is not one of file, sqlite, memory", c.Storage.Driver)
	}

	if c.Conversations.RequestTimeout < 0 {
		return fmt.Errorf("conversations.request_timeout must be positive")
	}
	if c.Conversations.WriteTimeout < 0 {
		return fmt.Errorf("conversations.write_timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Conversations.RequestTimeoutRaw != "" {
		cfg.Conversations.RequestTimeout, err = time.ParseDuration(cfg.Conversations.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Conversations.RequestTimeoutRaw, err)
		}
	}

	if cfg.Conversations.WriteTimeoutRaw != "" {
		cfg.Conversations.WriteTimeout, err = time.ParseDuration(cfg.Conversations.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing write_timeout %q: %w", cfg.Conversations.WriteTimeoutRaw, err)
		}
	}

	return nil
}
