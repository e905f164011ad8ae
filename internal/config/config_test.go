package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().DataDir, cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /var/lib/buildforge\nin_memory_delta: true\nlog_level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/buildforge", cfg.DataDir)
	assert.True(t, cfg.InMemoryDelta)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from/file\n"), 0o644))

	t.Setenv("BUILDFORGE_DATA_DIR", "/from/env")
	t.Setenv("BUILDFORGE_IN_MEMORY_DELTA", "true")
	t.Setenv("BUILDFORGE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.True(t, cfg.InMemoryDelta)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("BUILDFORGE_LOG_LEVEL", "loud")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: [broken"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
