package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all Deskclaw configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// AI provider settings
	AI AIConfig `json:"ai"`

	// Tool-calling settings
	Tools ToolsConfig `json:"tools"`

	// Intent classification settings
	Intent IntentConfig `json:"intent"`

	// Skill executor settings
	Executor ExecutorConfig `json:"executor"`

	// Scheduled skill runs
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
}

type ServerConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

// AIConfig holds chat endpoint settings
type AIConfig struct {
	Model        string  `json:"model"`
	BaseURL      string  `json:"baseUrl"`
	APIKey       string  `json:"apiKey"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	TimeoutSecs  int     `json:"timeoutSecs"`
	MaxRetries   int     `json:"maxRetries"`
}

type ToolsConfig struct {
	Enabled       bool `json:"enabled"`
	MaxIterations int  `json:"maxIterations"`
}

type IntentConfig struct {
	AIFallback          bool    `json:"aiFallback"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	TimeoutSecs         int     `json:"timeoutSecs"`
}

type ExecutorConfig struct {
	MaxHistory int    `json:"maxHistory"`
	HistoryDB  string `json:"historyDb,omitempty"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled bool                 `json:"enabled"`
	Jobs    []SchedulerJobConfig `json:"jobs"`
}

// SchedulerJobConfig defines a scheduled skill invocation
type SchedulerJobConfig struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Schedule ScheduleConfig `json:"schedule"`
	SkillID  string         `json:"skillId"`
	Params   map[string]any `json:"params,omitempty"`
	Enabled  bool           `json:"enabled"`
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind"` // "interval", "cron"
	IntervalMs int64  `json:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty"` // cron expression
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:  "./data",
			LogLevel: "info",
		},
		AI: AIConfig{
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			Temperature: 0.7,
			MaxTokens:   4096,
			TimeoutSecs: 120,
			MaxRetries:  3,
		},
		Tools: ToolsConfig{
			Enabled:       true,
			MaxIterations: 5,
		},
		Intent: IntentConfig{
			AIFallback:          true,
			ConfidenceThreshold: 0.75,
			TimeoutSecs:         5,
		},
		Executor: ExecutorConfig{
			MaxHistory: 100,
		},
	}
}

// Load reads config from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// Valid reports whether the configuration is complete enough to start the
// conversational service. Missing required fields are a configuration fault,
// not an error.
func (c *Config) Valid() bool {
	if c.AI.Model == "" || c.AI.BaseURL == "" {
		return false
	}
	if c.Intent.ConfidenceThreshold < 0 || c.Intent.ConfidenceThreshold > 1 {
		return false
	}
	if c.Tools.MaxIterations <= 0 {
		return false
	}
	return true
}

// Get resolves a flat dotted setting key against the typed config. The key
// set is fixed; unknown keys return ok=false.
func (c *Config) Get(key string) (any, bool) {
	switch key {
	case "server.data_dir":
		return c.Server.DataDir, true
	case "server.log_level":
		return c.Server.LogLevel, true
	case "ai.model":
		return c.AI.Model, true
	case "ai.base_url":
		return c.AI.BaseURL, true
	case "ai.api_key":
		return c.AI.APIKey, true
	case "ai.temperature":
		return c.AI.Temperature, true
	case "ai.max_tokens":
		return c.AI.MaxTokens, true
	case "ai.system_prompt":
		return c.AI.SystemPrompt, true
	case "ai.timeout_secs":
		return c.AI.TimeoutSecs, true
	case "ai.max_retries":
		return c.AI.MaxRetries, true
	case "tools.enabled":
		return c.Tools.Enabled, true
	case "tools.max_iterations":
		return c.Tools.MaxIterations, true
	case "intent.ai_fallback":
		return c.Intent.AIFallback, true
	case "intent.confidence_threshold":
		return c.Intent.ConfidenceThreshold, true
	case "intent.timeout_secs":
		return c.Intent.TimeoutSecs, true
	case "executor.max_history":
		return c.Executor.MaxHistory, true
	case "executor.history_db":
		return c.Executor.HistoryDB, true
	default:
		return nil, false
	}
}
