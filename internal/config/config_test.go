package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bamsammich/forge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Build.Tokens)
	assert.Nil(t, cfg.Build.Backend)
	assert.Nil(t, cfg.Theme.Green)
}

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "forge")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	content := `
[build]
tokens = 16
backend = "ssh"
verbosity = "verbose"
tui = true

[cache]
dir = "/var/cache/forge"
capacity_mb = 4096

[theme]
green = "#00ff00"
red = "#ff0000"
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Build.Tokens)
	assert.Equal(t, 16, *cfg.Build.Tokens)

	require.NotNil(t, cfg.Build.Backend)
	assert.Equal(t, "ssh", *cfg.Build.Backend)

	require.NotNil(t, cfg.Build.TUI)
	assert.True(t, *cfg.Build.TUI)

	require.NotNil(t, cfg.Cache.CapacityMB)
	assert.Equal(t, 4096, *cfg.Cache.CapacityMB)

	require.NotNil(t, cfg.Theme.Green)
	assert.Equal(t, "#00ff00", *cfg.Theme.Green)

	require.NotNil(t, cfg.Theme.Red)
	assert.Equal(t, "#ff0000", *cfg.Theme.Red)

	// Unset fields should remain nil.
	assert.Nil(t, cfg.Theme.Blue)
	assert.Nil(t, cfg.Theme.Bright)
}

func TestLoad_PartialConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "forge")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	content := `
[theme]
bright = "#ffffff"
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))

	cfg, err := config.Load()
	require.NoError(t, err)

	// Build section entirely absent.
	assert.Nil(t, cfg.Build.Tokens)
	assert.Nil(t, cfg.Build.Backend)

	require.NotNil(t, cfg.Theme.Bright)
	assert.Equal(t, "#ffffff", *cfg.Theme.Bright)
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "forge")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte("invalid [[["), 0o644))

	_, err := config.Load()
	assert.Error(t, err)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/forge/config.toml", config.ConfigPath())
}
