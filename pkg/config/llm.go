package config

import "time"

// LLMConfig configures the AI Orchestrator's external LLM client.
// APIKey is read from the environment, never from YAML.
type LLMConfig struct {
	APIKey  string        `yaml:"-" validate:"required"`
	Model   string        `yaml:"model" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// HistoryLimit is the number of prior messages loaded as context
	// for reply generation (default 20).
	HistoryLimit int `yaml:"history_limit" validate:"gt=0"`
}

// DefaultLLMConfig returns the built-in AI Orchestrator defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:        "claude-sonnet",
		Timeout:      15 * time.Second,
		HistoryLimit: 20,
	}
}
