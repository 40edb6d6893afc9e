// Package config loads and validates the councilgo configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// API Keys
	OpenAIKey  string `yaml:"openai_key"`
	OpenAIBase string `yaml:"openai_base"` // optional proxy / compatible endpoint

	// Judge and analyzer models
	JudgeModel    string `yaml:"judge_model"`
	AnalyzerModel string `yaml:"analyzer_model"`

	// Expert CLI commands, keyed by expert ID. Missing experts fall back to
	// the built-in catalog's commands.
	ExpertCommands map[string]string `yaml:"expert_commands"`

	// Debate configuration
	Debate DebateConfig `yaml:"debate"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Worker configuration
	Worker WorkerConfig `yaml:"worker"`

	// Retry configuration
	Retry RetryConfig `yaml:"retry"`

	// Paths
	LogDir       string `yaml:"log_dir"`
	LearningFile string `yaml:"learning_file"`

	// Observability
	Observability ObservabilityConfig `yaml:"observability"`
}

// DebateConfig tunes the protocol. UseAnalyzer enables the LLM question
// analyzer for auto-selection; off forces the keyword heuristic even when an
// API key is configured.
type DebateConfig struct {
	DeadlineMinutes int  `yaml:"deadline_minutes"`
	UseAnalyzer     bool `yaml:"use_analyzer"`
}

// CacheConfig tunes result caching.
type CacheConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MaxEntries    int     `yaml:"max_entries"`
	MaxAgeHours   int     `yaml:"max_age_hours"`
	MinConfidence float64 `yaml:"min_confidence"`
	CostPerToken  float64 `yaml:"cost_per_token"`
	SweepSchedule string  `yaml:"sweep_schedule"`

	// Backend is "memory", "file", or "redis".
	Backend string `yaml:"backend"`
	FileDir string `yaml:"file_dir"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds the redis backend connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

// WorkerConfig bounds expert process concurrency.
type WorkerConfig struct {
	MaxConcurrent  int     `yaml:"max_concurrent"`
	RequestsPerSec float64 `yaml:"requests_per_sec"` // 0 = unlimited
}

// RetryConfig mirrors the retry policy knobs.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// ObservabilityConfig controls the metrics and health endpoint.
type ObservabilityConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// Load reads a YAML config file, then fills gaps from the environment and
// built-in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.JudgeModel == "" {
		c.JudgeModel = "gpt-4o-mini"
	}
	if c.AnalyzerModel == "" {
		c.AnalyzerModel = "gpt-4o-mini"
	}
	if c.Debate.DeadlineMinutes == 0 {
		c.Debate.DeadlineMinutes = 60
		c.Debate.UseAnalyzer = true
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.Enabled = true
		c.Cache.MaxEntries = 1000
	}
	if c.Cache.MaxAgeHours == 0 {
		c.Cache.MaxAgeHours = 24
	}
	if c.Cache.MinConfidence == 0 {
		c.Cache.MinConfidence = 0.7
	}
	if c.Cache.CostPerToken == 0 {
		c.Cache.CostPerToken = 0.000002
	}
	if c.Cache.SweepSchedule == "" {
		c.Cache.SweepSchedule = "@every 15m"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "file"
	}
	if c.Worker.MaxConcurrent == 0 {
		c.Worker.MaxConcurrent = 8
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelayMs == 0 {
		c.Retry.InitialDelayMs = 1000
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 30000
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2.0
	}
	if c.Retry.JitterFraction == 0 {
		c.Retry.JitterFraction = 0.1
	}
	if c.Observability.Addr == "" {
		c.Observability.Addr = ":9464"
	}
}

func (c *Config) applyEnv() {
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.OpenAIBase == "" {
		c.OpenAIBase = os.Getenv("OPENAI_BASE_URL")
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = os.Getenv("COUNCILGO_REDIS_ADDR")
	}
	if c.LogDir == "" {
		c.LogDir = os.Getenv("COUNCILGO_LOG_DIR")
	}
}

// Deadline returns the debate deadline as a duration.
func (c *Config) Deadline() time.Duration {
	return time.Duration(c.Debate.DeadlineMinutes) * time.Minute
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Cache.MinConfidence < 0 || c.Cache.MinConfidence > 1 {
		return fmt.Errorf("cache.min_confidence must be within [0, 1]")
	}
	switch c.Cache.Backend {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory, file, or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required for the redis backend")
	}
	return nil
}
