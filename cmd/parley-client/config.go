// ABOUTME: Configuration loading for parley-client
// ABOUTME: Loads optional TOML config from the XDG path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// defaultGatewayURL is used when neither flag nor config names a gateway.
const defaultGatewayURL = "http://localhost:11251"

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Chat    ChatConfig    `toml:"chat"`
}

type GatewayConfig struct {
	URL string `toml:"url"`
}

type ChatConfig struct {
	// Recipient is the agent that receives the kickoff message.
	Recipient string `toml:"recipient"`
}

// configPath returns the client config location.
// Priority: PARLEY_CLIENT_CONFIG > XDG_CONFIG_HOME/parley/client.toml > ~/.config/parley/client.toml
func configPath() string {
	if p := os.Getenv("PARLEY_CLIENT_CONFIG"); p != "" {
		return p
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "client.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "parley", "client.toml")
}

// loadConfig reads config from path. A missing file yields defaults.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Gateway: GatewayConfig{URL: defaultGatewayURL}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(expandEnvVars(string(data)), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = defaultGatewayURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that the gateway URL is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	return nil
}
