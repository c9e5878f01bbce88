// ABOUTME: Tests for parley-client configuration loading
// ABOUTME: Covers defaults, TOML parsing, env expansion, and URL validation

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeClientConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, defaultGatewayURL, cfg.Gateway.URL)
	assert.Empty(t, cfg.Chat.Recipient)
}

func TestLoadConfig_ParsesTOML(t *testing.T) {
	path := writeClientConfig(t, `
[gateway]
url = "https://parley.example.ts.net"

[chat]
recipient = "Writer"
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://parley.example.ts.net", cfg.Gateway.URL)
	assert.Equal(t, "Writer", cfg.Chat.Recipient)
}

func TestLoadConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("PARLEY_TEST_HOST", "gw.internal:9000")
	path := writeClientConfig(t, `
[gateway]
url = "http://${PARLEY_TEST_HOST}"
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://gw.internal:9000", cfg.Gateway.URL)
}

func TestLoadConfig_EmptyURLFallsBack(t *testing.T) {
	path := writeClientConfig(t, "[chat]\nrecipient = \"Bot\"\n")
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, defaultGatewayURL, cfg.Gateway.URL)
}

func TestLoadConfig_RejectsBadScheme(t *testing.T) {
	path := writeClientConfig(t, "[gateway]\nurl = \"ftp://example.com\"\n")
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http or https")
}

func TestLoadConfig_RejectsBadTOML(t *testing.T) {
	path := writeClientConfig(t, "[gateway\nurl = 1")
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestConfigPath(t *testing.T) {
	t.Setenv("PARLEY_CLIENT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "parley", "client.toml"), configPath())

	t.Setenv("PARLEY_CLIENT_CONFIG", "/etc/parley/client.toml")
	assert.Equal(t, "/etc/parley/client.toml", configPath())
}
