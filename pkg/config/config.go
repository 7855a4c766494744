// Package config loads the engine configuration from a YAML file with
// sensible defaults for a single-user install.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"keyfold/pkg/store"
)

// Config is the full engine configuration. The storage backend is fixed
// here, once, for the life of the process.
type Config struct {
	// Backend selects the storage engine: "sqlite" or "bolt".
	Backend string `yaml:"backend"`
	// DataDir holds the database, lock, and session files.
	DataDir string `yaml:"data_dir"`
	// VaultDir holds attachment blobs. Defaults to DataDir/vault.
	VaultDir string `yaml:"vault_dir"`
	// LogLevel is a zap level string: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

const dirName = ".keyfold"

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot locate home directory: %w", err)
	}
	return filepath.Join(home, dirName, "config.yaml"), nil
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: cannot locate home directory: %w", err)
	}
	dataDir := filepath.Join(home, dirName)
	return &Config{
		Backend:  store.BackendSQLite,
		DataDir:  dataDir,
		VaultDir: filepath.Join(dataDir, "vault"),
		LogLevel: "warn",
	}, nil
}

// Load reads the config file at path, falling back to defaults for a
// missing file and for any field left empty.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if file.Backend != "" {
		cfg.Backend = file.Backend
	}
	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
		cfg.VaultDir = filepath.Join(file.DataDir, "vault")
	}
	if file.VaultDir != "" {
		cfg.VaultDir = file.VaultDir
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}

	if cfg.Backend != store.BackendSQLite && cfg.Backend != store.BackendBolt {
		return nil, fmt.Errorf("config: %w: %q", store.ErrUnknownBackend, cfg.Backend)
	}
	return cfg, nil
}

// SessionPath is where the persisted session for this install lives.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.json")
}
