package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "./ddalab", cfg.Deploy.TargetDir)
	assert.Equal(t, "ddalab", cfg.Deploy.Project)
	assert.Equal(t, "3000", cfg.Deploy.WebPort)
	assert.Equal(t, "8001", cfg.Deploy.APIPort)
	assert.Equal(t, 15*time.Second, cfg.Deploy.ProbeInterval)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "./ddalab-history.db", cfg.History.DSN)
	assert.Equal(t, 5*time.Minute, cfg.Runner.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "0.0.0.0"
  port: 9000

deploy:
  target_dir: "/srv/ddalab"
  project: "ddalab-prod"
  web_port: "8443"
  probe_interval: 30s

history:
  enabled: false

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/srv/ddalab", cfg.Deploy.TargetDir)
	assert.Equal(t, "ddalab-prod", cfg.Deploy.Project)
	assert.Equal(t, "8443", cfg.Deploy.WebPort)
	assert.Equal(t, 30*time.Second, cfg.Deploy.ProbeInterval)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("DDALAB_SERVER_PORT", "3001")
	t.Setenv("DDALAB_DEPLOY_TARGET_DIR", "/data/ddalab")
	t.Setenv("DDALAB_HISTORY_DSN", "/custom/history.db")
	t.Setenv("DDALAB_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "/data/ddalab", cfg.Deploy.TargetDir)
	assert.Equal(t, "/custom/history.db", cfg.History.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

func TestConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "localhost", Port: 8090}
	assert.Equal(t, "localhost:8090", cfg.Address())
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "invalid"} {
		cfg := &Config{Log: LogConfig{Level: level, Format: "json"}}
		assert.NotNil(t, SetupLogger(cfg), "level %s", level)
	}
}

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "info", Format: "text"}}
	assert.NotNil(t, SetupLogger(cfg))
}

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"DDALAB_SERVER_HOST",
		"DDALAB_SERVER_PORT",
		"DDALAB_DEPLOY_TARGET_DIR",
		"DDALAB_DEPLOY_PROJECT",
		"DDALAB_HISTORY_DSN",
		"DDALAB_LOG_LEVEL",
		"DDALAB_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
