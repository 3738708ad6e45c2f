package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsToMockWithoutKey(t *testing.T) {
	t.Setenv("NIALL_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("NIALL_CONFIG", "")
	t.Setenv("NIALL_STORAGE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.True(t, cfg.UseMockLLM)
	assert.Equal(t, "memory", cfg.StorageBackend)
	assert.Equal(t, 30, cfg.VideoMaxAttempts)
	assert.False(t, cfg.SearchEnabled)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "niallgpt.yaml")
	yml := "port: \"9000\"\nchat_model: gemini-test\nvideo_poll_interval: 2s\nstorage_backend: memory\nsearch_enabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("NIALL_CONFIG", path)
	t.Setenv("NIALL_API_KEY", "k")
	t.Setenv("NIALL_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "gemini-test", cfg.ChatModel)
	assert.Equal(t, 2*time.Second, cfg.VideoPollInterval)
	assert.False(t, cfg.UseMockLLM)
	assert.True(t, cfg.SearchEnabled)

	t.Setenv("NIALL_SEARCH", "false")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.SearchEnabled)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.StorageBackend = "firestore"
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.StorageBackend = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.VideoMaxAttempts = 0
	assert.Error(t, cfg.Validate())
}
