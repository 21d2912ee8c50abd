package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellego/evalpipe/internal/ports"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evalpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-haiku-4-5", cfg.ScoringModel())
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-12)
	assert.Equal(t, 0, cfg.LLM.Retries)
	assert.True(t, cfg.Adjustment.Enabled)
	assert.Equal(t, 1200, cfg.Adjustment.MaxTokens)

	assert.Equal(t, BatchOptions{
		Concurrency:    5,
		RetryAttempts:  3,
		RetryBaseDelay: 2 * time.Second,
		ChunkPause:     time.Second,
		Scheduling:     ScheduleChunked,
	}, cfg.BatchOptions())

	rates := cfg.Pricing.RateTable()
	assert.Equal(t, 1.00, rates.InputPerMTok)
	assert.Equal(t, 5.00, rates.OutputPerMTok)
	assert.Equal(t, 1.25, rates.CacheWritePerMTok)
	assert.Equal(t, 0.10, rates.CacheReadPerMTok)

	assert.Empty(t, cfg.Store.RedisURL)
	assert.Equal(t, "evalpipe:", cfg.Store.KeyPrefix)
	assert.Equal(t, 720*time.Hour, cfg.Store.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Metrics.ListenAddr)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	// Given a YAML file overriding a few fields
	path := writeConfig(t, `
llm:
  provider: openai
  model: gpt-4o
  timeout: 30s
  rate_limit_rps: 2.5
adjustment:
  enabled: false
batch:
  concurrency: 8
  scheduling: pool
  chunk_pause: 0s
log:
  level: debug
  format: json
metrics:
  listen_addr: ":9090"
`)

	// When it is loaded
	cfg, err := LoadConfig(path)

	// Then file values win and untouched fields keep their defaults
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.ScoringModel())
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.InDelta(t, 2.5, cfg.LLM.RateLimitRPS, 1e-12)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.False(t, cfg.Adjustment.Enabled)
	assert.Equal(t, 8, cfg.Batch.Concurrency)
	assert.Equal(t, 3, cfg.Batch.RetryAttempts)

	opts := cfg.BatchOptions()
	assert.Equal(t, SchedulePool, opts.Scheduling)
	assert.Zero(t, opts.ChunkPause)
	assert.True(t, opts.SkipAdjustment)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: from-file
batch:
  concurrency: 8
`)
	t.Setenv("EVALPIPE_LLM_MODEL", "from-env")
	t.Setenv("EVALPIPE_LLM_API_KEY", "sk-test")
	t.Setenv("EVALPIPE_BATCH_RETRY_BASE_DELAY", "500ms")
	t.Setenv("EVALPIPE_STORE_REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("EVALPIPE_ADJUSTMENT_ENABLED", "false")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 8, cfg.Batch.Concurrency, "file value survives when env is unset")
	assert.Equal(t, 500*time.Millisecond, cfg.Batch.RetryBaseDelay)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Store.RedisURL)
	assert.False(t, cfg.Adjustment.Enabled)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown provider",
			yaml:    "llm:\n  provider: mistral\n",
			wantErr: "llmprovider",
		},
		{
			name:    "unknown field",
			yaml:    "llm:\n  modle: typo\n",
			wantErr: "YAML decode failed",
		},
		{
			name:    "temperature out of range",
			yaml:    "llm:\n  temperature: 1.5\n",
			wantErr: "Temperature",
		},
		{
			name:    "zero concurrency",
			yaml:    "batch:\n  concurrency: 0\n",
			wantErr: "Concurrency",
		},
		{
			name:    "bad scheduling",
			yaml:    "batch:\n  scheduling: fifo\n",
			wantErr: "Scheduling",
		},
		{
			name:    "bad log level",
			yaml:    "log:\n  level: verbose\n",
			wantErr: "Level",
		},
		{
			name:    "bad env duration",
			yaml:    "",
			env:     map[string]string{"EVALPIPE_LLM_TIMEOUT": "soon"},
			wantErr: "processing env config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	var cerr *ports.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.ConfigKey, "missing.yaml")
}
