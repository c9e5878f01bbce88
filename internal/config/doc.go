// Package config handles configuration loading for parley-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/gateway.yaml
//  3. ~/.config/parley/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// A .env file in the working directory is read by LoadDotEnv before the
// config is loaded, so development setups can keep secrets out of the YAML.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	conversations:
//	  request_timeout: "30s"
//	  write_timeout: "10s"
//
// # Defaults
//
// Missing fields fall back to: storage.driver "file", request_timeout 30s,
// write_timeout 10s, default_human_interventions 4, metrics.path "/metrics",
// logging level "info" with "text" format.
package config
