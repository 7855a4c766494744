package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyfold/pkg/store"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, store.BackendSQLite, cfg.Backend)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "vault"), cfg.VaultDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, filepath.Join(cfg.DataDir, "session.json"), cfg.SessionPath())
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: bolt
data_dir: /tmp/keyfold-test
log_level: debug
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, store.BackendBolt, cfg.Backend)
	assert.Equal(t, "/tmp/keyfold-test", cfg.DataDir)
	assert.Equal(t, filepath.Join("/tmp/keyfold-test", "vault"), cfg.VaultDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadExplicitVaultDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/keyfold-test
vault_dir: /mnt/blobs
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/blobs", cfg.VaultDir)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: postgres\n"), 0600))

	_, err := Load(path)
	assert.ErrorIs(t, err, store.ErrUnknownBackend)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unclosed\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}
