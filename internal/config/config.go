// Package config holds lsmux runtime configuration: built-in defaults,
// an optional YAML file under the user config dir, and environment
// overrides, applied in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config holds daemon and CLI configuration.
type Config struct {
	// CacheDir is the base directory for per-daemon state
	// (sockets, pid files, logs, event databases).
	CacheDir string

	// IdleShutdown is how long a daemon lingers with zero clients
	// before killing its language server and exiting.
	IdleShutdown time.Duration

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// SpawnTimeout bounds how long connect waits for a freshly
	// spawned daemon's socket to accept.
	SpawnTimeout time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheDir:     filepath.Join(xdg.CacheHome, "lsmux"),
		IdleShutdown: 500 * time.Millisecond,
		LogLevel:     "info",
		SpawnTimeout: 10 * time.Second,
	}
}

// Path returns the config file location under the user config dir.
func Path() string {
	return filepath.Join(xdg.ConfigHome, "lsmux", "config.yaml")
}

// Load builds the effective configuration: defaults, then the config
// file if present, then environment variables.
func Load() (*Config, error) {
	c := Default()
	if err := c.loadFile(Path()); err != nil {
		return nil, err
	}
	if err := c.loadEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

// fileConfig is the YAML shape; durations are written as strings
// ("500ms", "2s") and parsed on load.
type fileConfig struct {
	CacheDir     string `yaml:"cacheDir"`
	IdleShutdown string `yaml:"idleShutdown"`
	LogLevel     string `yaml:"logLevel"`
	SpawnTimeout string `yaml:"spawnTimeout"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if f.CacheDir != "" {
		c.CacheDir = f.CacheDir
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.IdleShutdown != "" {
		d, err := time.ParseDuration(f.IdleShutdown)
		if err != nil {
			return fmt.Errorf("parse %s: idleShutdown: %w", path, err)
		}
		c.IdleShutdown = d
	}
	if f.SpawnTimeout != "" {
		d, err := time.ParseDuration(f.SpawnTimeout)
		if err != nil {
			return fmt.Errorf("parse %s: spawnTimeout: %w", path, err)
		}
		c.SpawnTimeout = d
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("LSMUX_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("LSMUX_IDLE_SHUTDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LSMUX_IDLE_SHUTDOWN: %w", err)
		}
		c.IdleShutdown = d
	}
	if v := os.Getenv("LSMUX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// DaemonsDir is where per-daemon state directories live.
func (c *Config) DaemonsDir() string {
	return filepath.Join(c.CacheDir, "daemons")
}

// EnsureDirs creates the base directories.
func (c *Config) EnsureDirs() error {
	return os.MkdirAll(c.DaemonsDir(), 0o700)
}
