package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings is the persisted subset of the configuration
type Settings struct {
	Port     int    `yaml:"port,omitempty"`
	DataDir  string `yaml:"data_dir,omitempty"`
	MediaDir string `yaml:"media_dir,omitempty"`
	DBPath   string `yaml:"db_path,omitempty"`
}

// DataStoreDir returns the per-user directory FuncAtlas keeps its settings in
func DataStoreDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "funcatlas"), nil
}

// SettingsPath returns the default settings file location
func SettingsPath() (string, error) {
	dir, err := DataStoreDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// LoadSettings reads settings from path, or from SettingsPath when path is empty.
// A missing file yields empty settings.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	if path == "" {
		p, err := SettingsPath()
		if err != nil {
			return s, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return s, nil
}

// SaveSettings writes settings to path, or to SettingsPath when path is empty
func SaveSettings(path string, s Settings) error {
	if path == "" {
		p, err := SettingsPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
