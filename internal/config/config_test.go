package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Agent.MaxRounds)
	assert.Equal(t, 1, cfg.Agent.MaxPlannerRetries)
	assert.Equal(t, "googleai/gemini-2.0-flash", cfg.Model.Name)
	assert.Equal(t, "memory", cfg.Cache.Kind)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  addr: ":9090"
agent:
  max_rounds: 3
  planner_timeout: 15s
meilisearch:
  host: http://search:7700
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Agent.MaxRounds)
	assert.Equal(t, 15*time.Second, cfg.Agent.PlannerTimeout)
	assert.Equal(t, "http://search:7700", cfg.Meilisearch.Host)
	// Untouched sections keep defaults.
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/db")
	t.Setenv("PORT", "7777")
	t.Setenv("MAX_ROUNDS", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/db", cfg.Database.URL)
	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Agent.MaxRounds)
}

func TestLoad_RejectsBadCacheKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  kind: redis\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
