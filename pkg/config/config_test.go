package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 60, cfg.Debate.DeadlineMinutes)
	assert.Equal(t, 60*time.Minute, cfg.Deadline())
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 0.7, cfg.Cache.MinConfidence)
	assert.Equal(t, 0.000002, cfg.Cache.CostPerToken)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1000, cfg.Retry.InitialDelayMs)
	assert.Equal(t, 30000, cfg.Retry.MaxDelayMs)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 0.1, cfg.Retry.JitterFraction)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
judge_model: gpt-4o
cache:
  backend: memory
  max_entries: 50
retry:
  max_attempts: 5
expert_commands:
  claude: my-claude-wrapper
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.JudgeModel)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "my-claude-wrapper", cfg.ExpertCommands["claude"])

	// Defaults still fill the gaps.
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, "gpt-4o-mini", cfg.AnalyzerModel)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: ["), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfigEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	cfg := Default()
	assert.Equal(t, "env-key", cfg.OpenAIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad backend",
			mutate:  func(c *Config) { c.Cache.Backend = "dynamo" },
			wantErr: "cache.backend",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: "redis.addr",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Cache.MinConfidence = 1.5 },
			wantErr: "min_confidence",
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *Config) { c.Retry.Multiplier = 0.5 },
			wantErr: "multiplier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.JudgeModel = "gpt-4o"

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", loaded.JudgeModel)
}
