package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, []string{"serper", "tavily", "duckduckgo", "simulated"}, c.Providers.Order)
	assert.Equal(t, 3, c.Search.MaxAttempts)
	assert.Equal(t, 250, c.Search.BackoffBaseMs)
	assert.Equal(t, "local", c.Search.CacheBackend)
	assert.Equal(t, 5, c.Executor.Workers)
	assert.Equal(t, "https://api.openai.com", c.LLM.BaseURL)
	assert.Equal(t, "reports", c.Storage.ReportsDir)
	assert.Equal(t, 10*time.Second, c.Providers.ProviderTimeout())
	assert.Equal(t, time.Minute, c.LLM.LLMTimeout())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "researchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
providers:
  order: [duckduckgo, simulated]
  serper_api_key: sk-test
search:
  cache_backend: redis
  redis_addr: "redis:6379"
executor:
  workers: 3
`), 0o644))
	t.Setenv("CONFIG_PATH", path)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, c.Server.Port)
	assert.Equal(t, []string{"duckduckgo", "simulated"}, c.Providers.Order)
	assert.Equal(t, "sk-test", c.Providers.SerperAPIKey)
	assert.Equal(t, "redis", c.Search.CacheBackend)
	assert.Equal(t, "redis:6379", c.Search.RedisAddr)
	assert.Equal(t, 3, c.Executor.Workers)
	// Untouched sections keep their defaults.
	assert.Equal(t, 9090, c.Server.MetricsPort)
	assert.Equal(t, 5, c.LLM.MaxQueries)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("RESEARCHD_SERVER_PORT", "7070")
	t.Setenv("RESEARCHD_LLM_API_KEY", "env-key")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, c.Server.Port)
	assert.Equal(t, "env-key", c.LLM.APIKey)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a map"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	assert.Error(t, err)
}
