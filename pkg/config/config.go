// Package config loads, merges, and validates the pipeline's
// configuration: a structural YAML file for tenant-independent sizing
// and policy defaults, plus environment variables for secrets and
// per-deployment values.
package config

import (
	"context"
	"fmt"
	"log/slog"
)

// Config is the umbrella configuration object returned by Initialize
// and passed explicitly into every component's constructor — there is
// no module-level singleton anywhere in this codebase.
type Config struct {
	configDir string

	Server    *ServerConfig
	Queue     *QueueConfig
	RateLimit *RateLimitConfig
	Breaker   *BreakerConfig
	Window    *WindowConfig
	Retention *RetentionConfig
	LLM       *LLMConfig
	ManyChat  *ManyChatConfig
	Graph     *GraphConfig
	Slack     *SlackConfig
	Redis     *RedisConfig
	Security  *SecurityConfig
}

// ConfigDir returns the configuration directory path used to load
// pipeline.yaml and .env.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load pipeline.yaml from configDir
//  2. Expand environment variable templates
//  3. Merge built-in defaults with user overrides
//  4. Layer in secrets/deployment values from the environment
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("component", "config", "config_dir", configDir)
	log.InfoContext(ctx, "initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.InfoContext(ctx, "configuration initialized",
		"worker_count", cfg.Queue.WorkerCount,
		"window_hours", cfg.Window.Hours,
		"manychat_enabled", cfg.ManyChat.Enabled)

	return cfg, nil
}
