// Package config loads forge's optional TOML configuration file, holding
// persistent defaults for job parallelism, cache placement, backend
// selection, and report verbosity, plus theme overrides for
// internal/ui. Grounded on internal/config's prior shape: same
// XDG-path lookup, same BurntSushi/toml decode-into-optional-pointers
// pattern so an absent key never overwrites a flag default with a
// zero value.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional forge configuration file.
type Config struct {
	Build BuildConfig `toml:"build"`
	Cache CacheConfig `toml:"cache"`
	Theme ThemeConfig `toml:"theme"`
}

// BuildConfig holds persistent defaults for the build/request surface
// (spec.md §4.6's n_tokens budget, §4.4's backend selection).
type BuildConfig struct {
	Tokens    *int    `toml:"tokens"`     // n_tokens: total parallel job-slot budget
	Backend   *string `toml:"backend"`    // default Backend name (e.g. "local", "ssh")
	Verbosity *string `toml:"verbosity"`  // report detail: "quiet", "normal", "verbose"
	TUI       *bool   `toml:"tui"`
}

// CacheConfig holds persistent defaults for the directory cache (spec.md
// §4.7).
type CacheConfig struct {
	Dir         *string `toml:"dir"`
	CapacityMB  *int    `toml:"capacity_mb"`
}

// ThemeConfig holds optional color overrides.
type ThemeConfig struct {
	Green  *string `toml:"green"`
	Blue   *string `toml:"blue"`
	Yellow *string `toml:"yellow"`
	Red    *string `toml:"red"`
	Teal   *string `toml:"teal"`
	Mauve  *string `toml:"mauve"`
	Muted  *string `toml:"muted"`
	Dim    *string `toml:"dim"`
	Bright *string `toml:"bright"`
}

// ConfigPath returns the resolved path to the config file.
func ConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "forge", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}
