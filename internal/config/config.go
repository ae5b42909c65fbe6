package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the application configuration
type Config struct {
	Port     int
	DataDir  string
	MediaDir string
	DBPath   string
	Headless bool
	Version  string

	// SettingsFile is the YAML settings path; empty means the per-user default.
	SettingsFile string
}

// Defaults returns the configuration used when nothing else is set
func Defaults() Config {
	return Config{
		Port:     8080,
		DataDir:  "./data",
		MediaDir: "./media",
		Version:  "dev",
	}
}

// AtlasDir is the folder atlas snapshots are read from
func (c Config) AtlasDir() string {
	return filepath.Join(c.MediaDir, "atlas")
}

// DatabasePath returns the neuron directory database, defaulting to a file in the data dir
func (c Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "funcatlas.db")
}

// ApplySettings overlays non-empty values from a settings file
func (c Config) ApplySettings(s Settings) Config {
	if s.Port != 0 {
		c.Port = s.Port
	}
	if s.DataDir != "" {
		c.DataDir = s.DataDir
	}
	if s.MediaDir != "" {
		c.MediaDir = s.MediaDir
	}
	if s.DBPath != "" {
		c.DBPath = s.DBPath
	}
	return c
}

// ApplyEnv overlays FUNCATLAS_* environment variables
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("FUNCATLAS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("FUNCATLAS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("FUNCATLAS_MEDIA_DIR"); v != "" {
		c.MediaDir = v
	}
	if v := os.Getenv("FUNCATLAS_DB"); v != "" {
		c.DBPath = v
	}
	return c
}
