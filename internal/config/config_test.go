// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:11251"
  grpc_addr: "0.0.0.0:11253"
  allowed_origins:
    - "http://localhost:11252"

storage:
  driver: "sqlite"
  path: "./parley.db"

conversations:
  request_timeout: "45s"
  write_timeout: "2s"
  workspace_root: "/tmp/parley"
  default_human_interventions: -1

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/prom"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:11251", cfg.Server.HTTPAddr)
	assert.Equal(t, "0.0.0.0:11253", cfg.Server.GRPCAddr)
	assert.Equal(t, []string{"http://localhost:11252"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "./parley.db", cfg.Storage.Path)
	assert.Equal(t, 45*time.Second, cfg.Conversations.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.Conversations.WriteTimeout)
	assert.Equal(t, "/tmp/parley", cfg.Conversations.WorkspaceRoot)
	assert.Equal(t, -1, cfg.HumanInterventions())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/prom", cfg.Metrics.Path)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:11251"
storage:
  path: "./data/teams"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultStorageDriver, cfg.Storage.Driver)
	assert.Equal(t, DefaultRequestTimeout, cfg.Conversations.RequestTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.Conversations.WriteTimeout)
	assert.Equal(t, DefaultHumanInterventions, cfg.HumanInterventions())
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_ZeroInterventionsIsKept(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:11251"
storage:
  driver: "memory"
conversations:
  default_human_interventions: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.HumanInterventions())
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_ADDR", "127.0.0.1:9999")
	t.Setenv("PARLEY_TEST_KEY", "tskey-abc")

	path := writeConfig(t, `
server:
  http_addr: "${PARLEY_TEST_ADDR}"
tailscale:
  auth_key: "${PARLEY_TEST_KEY}"
storage:
  driver: "memory"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.HTTPAddr)
	assert.Equal(t, "tskey-abc", cfg.Tailscale.AuthKey)
}

func TestExpandEnvVars_UnsetBecomesEmpty(t *testing.T) {
	assert.Equal(t, "a--b", expandEnvVars("a-${PARLEY_SURELY_UNSET_VAR}-b"))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing http addr",
			content: "storage:\n  driver: memory\n",
			want:    "server.http_addr is required",
		},
		{
			name:    "tailscale without hostname",
			content: "tailscale:\n  enabled: true\nstorage:\n  driver: memory\n",
			want:    "tailscale.hostname is required",
		},
		{
			name:    "file driver without path",
			content: "server:\n  http_addr: \":1\"\n",
			want:    "storage.path is required",
		},
		{
			name:    "unknown driver",
			content: "server:\n  http_addr: \":1\"\nstorage:\n  driver: postgres\n",
			want:    "storage.driver",
		},
		{
			name:    "bad duration",
			content: "server:\n  http_addr: \":1\"\nstorage:\n  driver: memory\nconversations:\n  request_timeout: soon\n",
			want:    "parsing request_timeout",
		},
		{
			name:    "negative duration",
			content: "server:\n  http_addr: \":1\"\nstorage:\n  driver: memory\nconversations:\n  write_timeout: -1s\n",
			want:    "write_timeout must be positive",
		},
		{
			name:    "bad log level",
			content: "server:\n  http_addr: \":1\"\nstorage:\n  driver: memory\nlogging:\n  level: loud\n",
			want:    "logging.level",
		},
		{
			name:    "invalid yaml",
			content: "server: [",
			want:    "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_TailscaleWithoutHTTPAddr(t *testing.T) {
	path := writeConfig(t, `
tailscale:
  enabled: true
  hostname: "parley"
  ephemeral: true
storage:
  driver: "memory"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Tailscale.Enabled)
	assert.Equal(t, "parley", cfg.Tailscale.Hostname)
	assert.True(t, cfg.Tailscale.Ephemeral)
}

func TestDefaultPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("PARLEY_CONFIG", "/etc/parley.yaml")
		assert.Equal(t, "/etc/parley.yaml", DefaultPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("PARLEY_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "parley", "gateway.yaml"), DefaultPath())
	})

	t.Run("home fallback", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("PARLEY_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", home)
		assert.Equal(t, filepath.Join(home, ".config", "parley", "gateway.yaml"), DefaultPath())
	})
}
