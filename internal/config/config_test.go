package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir keeps a stray ./wizard.yaml from leaking into tests.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Executor.Timeout)
	assert.Equal(t, 0, cfg.Executor.MaxRetries)
	assert.Equal(t, "SDLC", cfg.Jira.Project)
	assert.False(t, cfg.UsesPostgres())
}

func TestLoader_Load_DefaultsWithNoConfigFile(t *testing.T) {
	inTempDir(t)
	t.Setenv(ConfigPathEnv, "")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_LoadFromFile(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
storage:
  runs: postgres
  artifacts: postgres
postgres:
  dsn: "host=db user=wizard dbname=wizard sslmode=disable"
executor:
  timeout: 45s
  max_retries: 2
redis:
  enabled: true
`), 0o644))

	cfg, err := NewLoader().LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, 45*time.Second, cfg.Executor.Timeout)
	assert.Equal(t, 2, cfg.Executor.MaxRetries)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr, "unset keys keep defaults")
}

func TestLoader_Load_WithConfigPathEnv(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "elsewhere.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  concurrency: 5\n"), 0o644))
	t.Setenv(ConfigPathEnv, path)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
}

func TestLoader_Load_PicksUpLocalFile(t *testing.T) {
	dir := inTempDir(t)
	t.Setenv(ConfigPathEnv, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultCfgFile), []byte("log:\n  format: json\n"), 0o644))

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_Load_EnvOverridesTakePrecedence(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  concurrency: 5\n"), 0o644))
	t.Setenv(ConfigPathEnv, path)
	t.Setenv("WIZARD_WORKER_CONCURRENCY", "7")
	t.Setenv("WIZARD_EXECUTOR_TIMEOUT", "10s")
	t.Setenv("WIZARD_JIRA_PROJECT", "OPS")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Worker.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Executor.Timeout)
	assert.Equal(t, "OPS", cfg.Jira.Project)
}

func TestLoader_LoadFromFile_Errors(t *testing.T) {
	dir := inTempDir(t)

	_, err := NewLoader().LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o644))
	_, err = NewLoader().LoadFromFile(bad)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown runs backend", func(c *Config) { c.Storage.Runs = "mongo" }},
		{"unknown artifact backend", func(c *Config) { c.Storage.Artifacts = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Runs = "postgres" }},
		{"fs without root", func(c *Config) { c.Storage.FSRoot = "" }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"no workers", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"negative retries", func(c *Config) { c.Executor.MaxRetries = -1 }},
		{"jira without url", func(c *Config) { c.Jira.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
