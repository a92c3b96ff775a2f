package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "openai", cfg.Provider.Type)
	assert.Equal(t, 1*time.Second, cfg.Detector.SlowQueryThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Rollback.LockTTL)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mend.yaml")
	content := `
server:
  http_port: 9999
provider:
  type: ollama
  model: qwen2.5
detector:
  slow_query_threshold: 250ms
  error_spike_count: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "ollama", cfg.Provider.Type)
	assert.Equal(t, "qwen2.5", cfg.Provider.Model)
	assert.Equal(t, 250*time.Millisecond, cfg.Detector.SlowQueryThreshold)
	assert.Equal(t, 3, cfg.Detector.ErrorSpikeCount)

	// Unset sections keep their defaults.
	assert.Equal(t, "origin", cfg.Rollback.Remote)
	assert.Equal(t, []string{"npx", "tsc", "--noEmit"}, cfg.Validator.CompileCommand)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := LoadConfigFromFile(path)
	assert.Error(t, err)
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mend.yaml")

	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 8181
	cfg.NATS.Enabled = true
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, loaded.Server.HTTPPort)
	assert.True(t, loaded.NATS.Enabled)
	assert.Equal(t, cfg.Validator.RequiredPaths, loaded.Validator.RequiredPaths)
}
