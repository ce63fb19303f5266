package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docintake/backend/internal/validation"
)

func TestLoadConfig_CreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intake.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Intake.DefaultCapacity)
	assert.Equal(t, int64(10*1024*1024), cfg.Intake.MaxFileSizeBytes)
	assert.Equal(t, 5*time.Second, cfg.ErrorDisplay())
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.DataDirectory)
	assert.Equal(t, filepath.Join(dir, "data", "journal.duckdb"), cfg.Storage.JournalPath)
}

func TestLoadConfig_ReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intake.yaml")
	content := `
server:
  port: 9000
intake:
  default_capacity: 2
  batch_mode: stop_at_first
  preview_backend: disk
  gate_removal: true
storage:
  data_directory: /srv/intake
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Intake.DefaultCapacity)
	assert.True(t, cfg.Intake.GateRemoval)
	assert.Equal(t, "/srv/intake", cfg.Storage.DataDirectory)
	// Unset keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.BindAddress)
	assert.Equal(t, validation.BatchStopAtFirst, cfg.Policy().Mode)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "7001")
	t.Setenv("INTAKE_AUTH_TOKEN", "secret")
	t.Setenv("INTAKE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "intake.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.True(t, cfg.Security.RequireAuth)
	assert.Equal(t, "secret", cfg.Security.AuthToken)
	assert.Equal(t, "debug", cfg.Advanced.LogLevel)
	assert.Equal(t, "0.0.0.0:7001", cfg.GetServerAddr())
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"capacity three", func(c *AppConfig) { c.Intake.DefaultCapacity = 3 }},
		{"zero size limit", func(c *AppConfig) { c.Intake.MaxFileSizeBytes = 0 }},
		{"unknown batch mode", func(c *AppConfig) { c.Intake.BatchMode = "greedy" }},
		{"unknown preview backend", func(c *AppConfig) { c.Intake.PreviewBackend = "s3" }},
		{"zero cleanup interval", func(c *AppConfig) { c.Intake.CleanupIntervalMinutes = 0 }},
		{"auth without token", func(c *AppConfig) { c.Security.RequireAuth = true }},
	}

	assert.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAppConfig_EnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.resolvePaths(dir)

	require.NoError(t, cfg.EnsureDirectories())

	_, err := os.Stat(filepath.Join(dir, "data", "previews"))
	assert.NoError(t, err)
}
