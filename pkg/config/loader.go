package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// pipelineYAMLConfig represents the complete pipeline.yaml file
// structure: structural, tenant-independent sizing and policy
// defaults. Secrets and per-deployment values never live here — those
// come from the environment (see resolve* below).
type pipelineYAMLConfig struct {
	Server    *ServerConfig    `yaml:"server"`
	Queue     *QueueConfig     `yaml:"queue"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
	Breaker   *BreakerConfig   `yaml:"breaker"`
	Window    *WindowConfig    `yaml:"window"`
	Retention *RetentionConfig `yaml:"retention"`
	LLM       *LLMConfig       `yaml:"llm"`
	ManyChat  *ManyChatConfig  `yaml:"manychat"`
	Graph     *GraphConfig     `yaml:"graph"`
	Slack     *SlackConfig     `yaml:"slack"`
	Redis     *RedisConfig     `yaml:"redis"`
}

// load reads pipeline.yaml (if present), merges it over built-in
// defaults, then layers in secrets and deployment values from the
// environment.
func load(configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadPipelineYAML()
	if err != nil {
		return nil, NewLoadError("pipeline.yaml", err)
	}

	server := DefaultServerConfig()
	queue := DefaultQueueConfig()
	rateLimit := DefaultRateLimitConfig()
	breaker := DefaultBreakerConfig()
	window := DefaultWindowConfig()
	retention := DefaultRetentionConfig()
	llm := DefaultLLMConfig()
	manychat := DefaultManyChatConfig()
	graph := DefaultGraphConfig()
	slackCfg := DefaultSlackConfig()
	redisCfg := DefaultRedisConfig()

	if err := mergeOverride(queue, yamlCfg.Queue); err != nil {
		return nil, fmt.Errorf("failed to merge queue config: %w", err)
	}
	if err := mergeOverride(rateLimit, yamlCfg.RateLimit); err != nil {
		return nil, fmt.Errorf("failed to merge rate_limit config: %w", err)
	}
	if err := mergeOverride(breaker, yamlCfg.Breaker); err != nil {
		return nil, fmt.Errorf("failed to merge breaker config: %w", err)
	}
	if err := mergeOverride(window, yamlCfg.Window); err != nil {
		return nil, fmt.Errorf("failed to merge window config: %w", err)
	}
	if err := mergeOverride(retention, yamlCfg.Retention); err != nil {
		return nil, fmt.Errorf("failed to merge retention config: %w", err)
	}
	if err := mergeOverride(llm, yamlCfg.LLM); err != nil {
		return nil, fmt.Errorf("failed to merge llm config: %w", err)
	}
	if err := mergeOverride(manychat, yamlCfg.ManyChat); err != nil {
		return nil, fmt.Errorf("failed to merge manychat config: %w", err)
	}
	if err := mergeOverride(graph, yamlCfg.Graph); err != nil {
		return nil, fmt.Errorf("failed to merge graph config: %w", err)
	}
	if err := mergeOverride(slackCfg, yamlCfg.Slack); err != nil {
		return nil, fmt.Errorf("failed to merge slack config: %w", err)
	}
	if err := mergeOverride(redisCfg, yamlCfg.Redis); err != nil {
		return nil, fmt.Errorf("failed to merge redis config: %w", err)
	}
	if err := mergeOverride(server, yamlCfg.Server); err != nil {
		return nil, fmt.Errorf("failed to merge server config: %w", err)
	}

	applyEnvOverrides(server, queue, window, breaker, llm, manychat, graph, slackCfg, redisCfg)

	security := &SecurityConfig{
		EncryptionKeyHex: os.Getenv("ENCRYPTION_KEY_HEX"),
		AdminAPIKey:      os.Getenv("ADMIN_API_KEY"),
	}

	return &Config{
		configDir: configDir,
		Server:    server,
		Queue:     queue,
		RateLimit: rateLimit,
		Breaker:   breaker,
		Window:    window,
		Retention: retention,
		LLM:       llm,
		ManyChat:  manychat,
		Graph:     graph,
		Slack:     slackCfg,
		Redis:     redisCfg,
		Security:  security,
	}, nil
}

// mergeOverride merges src onto dst (non-zero fields in src win) when
// src is non-nil, via dario.cat/mergo.
func mergeOverride(dst, src any) error {
	if src == nil {
		return nil
	}
	return mergo.Merge(dst, src, mergo.WithOverride)
}

// applyEnvOverrides layers secrets and per-deployment values from the
// environment on top of the YAML-resolved configuration.
func applyEnvOverrides(
	server *ServerConfig,
	queue *QueueConfig,
	window *WindowConfig,
	breaker *BreakerConfig,
	llm *LLMConfig,
	manychat *ManyChatConfig,
	graph *GraphConfig,
	slackCfg *SlackConfig,
	redisCfg *RedisConfig,
) {
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		server.CORSOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		server.Port = v
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		server.Mode = v
	}
	server.Production = strings.EqualFold(os.Getenv("ENVIRONMENT"), "production")

	if v, ok := envInt("WORKER_CONCURRENCY"); ok {
		queue.WorkerCount = v
	}
	if v, ok := envInt("PER_TENANT_CONCURRENCY"); ok {
		queue.PerTenantConcurrency = v
	}

	if v, ok := envInt("WINDOW_HOURS"); ok {
		window.Hours = v
	}
	if v, ok := envInt("WINDOW_GRACE_MINUTES"); ok {
		window.GraceMinutes = v
	}

	if v, ok := envInt("CIRCUIT_FAIL_THRESHOLD"); ok {
		breaker.FailThreshold = uint32(v)
	}
	if v, ok := envInt("CIRCUIT_COOLDOWN_SECONDS"); ok {
		breaker.Cooldown = time.Duration(v) * time.Second
	}

	llm.APIKey = os.Getenv("LLM_API_KEY")
	if v := os.Getenv("LLM_MODEL"); v != "" {
		llm.Model = v
	}

	manychat.APIKey = os.Getenv("MANYCHAT_API_KEY")
	manychat.WebhookSecret = os.Getenv("MANYCHAT_WEBHOOK_SECRET")
	manychat.Enabled = manychat.APIKey != ""
	for _, env := range os.Environ() {
		const prefix = "MANYCHAT_"
		const suffix = "_FLOW_ID"
		kv := strings.SplitN(env, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := kv[0]
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix) {
			name := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix))
			manychat.FlowIDs[name] = kv[1]
		}
	}

	graph.AppSecret = os.Getenv("META_APP_SECRET")
	graph.VerifyToken = os.Getenv("IG_VERIFY_TOKEN")

	slackCfg.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	slackCfg.Channel = os.Getenv("SLACK_OPERATOR_CHANNEL")
	slackCfg.ConsoleURL = os.Getenv("OPERATOR_CONSOLE_URL")
	slackCfg.Enabled = slackCfg.BotToken != "" && slackCfg.Channel != ""

	if v := os.Getenv("REDIS_URL"); v != "" {
		redisCfg.URL = v
	} else if v := os.Getenv("KV_URL"); v != "" {
		redisCfg.URL = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadPipelineYAML() (*pipelineYAMLConfig, error) {
	cfg := &pipelineYAMLConfig{}
	path := filepath.Join(l.configDir, "pipeline.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Absent YAML is not fatal; defaults + env vars may be
			// sufficient for the validator to accept the config.
			return cfg, nil
		}
		return nil, err
	}

	// Expand environment variable templates before parsing, matching
	// before any structural validation sees placeholder text.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return cfg, nil
}
