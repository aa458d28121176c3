package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Action.MaxRounds)
	assert.Equal(t, 4096, cfg.Action.MaxTokens)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2*time.Minute, cfg.LLM.Timeout)
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
action:
  max_rounds: 5
log:
  level: debug
redis:
  addr: redis.internal:6380
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Action.MaxRounds)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	// Untouched values keep defaults.
	assert.Equal(t, 4096, cfg.Action.MaxTokens)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("action:\n  max_rounds: 5\n"), 0o600))

	t.Setenv("TASKFLOW_ACTION_MAX_ROUNDS", "7")
	t.Setenv("TASKFLOW_LLM_TIMEOUT", "30s")
	t.Setenv("TASKFLOW_METRICS_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Action.MaxRounds)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/taskflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Action.MaxRounds)
}

func TestLoader_ValidatorFailureSurfaces(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return errors.New("max_rounds too small")
		}).
		Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "max_rounds too small")
}

func TestLoader_BadEnvValueFails(t *testing.T) {
	t.Setenv("TASKFLOW_ACTION_MAX_ROUNDS", "not-a-number")
	_, err := NewLoader().Load()
	require.Error(t, err)
}
