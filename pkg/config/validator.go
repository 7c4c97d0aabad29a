package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator validates configuration comprehensively with clear error
// messages. At startup a failure aborts the process with a
// human-readable report and a non-zero exit code.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation, fail-fast at the
// first invalid component.
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateRateLimit(); err != nil {
		return fmt.Errorf("rate_limit validation failed: %w", err)
	}
	if err := v.validateBreaker(); err != nil {
		return fmt.Errorf("breaker validation failed: %w", err)
	}
	if err := v.validateWindow(); err != nil {
		return fmt.Errorf("window validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := v.validateManyChat(); err != nil {
		return fmt.Errorf("manychat validation failed: %w", err)
	}
	if err := v.validateGraph(); err != nil {
		return fmt.Errorf("graph validation failed: %w", err)
	}
	if err := v.validateSecurity(); err != nil {
		return fmt.Errorf("security validation failed: %w", err)
	}
	if err := v.validateRedis(); err != nil {
		return fmt.Errorf("redis validation failed: %w", err)
	}
	if err := v.validateStructTags(); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}
	return nil
}

// validateStructTags runs go-playground/validator's declarative `validate`
// struct-tag checks over the whole tree. It runs last, as a backstop over
// fields the hand-rolled checks above don't otherwise cover (Retention,
// Slack) rather than a replacement for them.
func (v *Validator) validateStructTags() error {
	if err := validator.New().Struct(v.cfg); err != nil {
		if invalid, ok := err.(*validator.InvalidValidationError); ok {
			return invalid
		}
		var msgs []string
		for _, fe := range err.(validator.ValidationErrors) {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s == nil {
		return fmt.Errorf("server configuration is nil")
	}
	if len(s.CORSOrigins) == 0 {
		return NewValidationError("server", "cors_origins",
			fmt.Errorf("CORS_ORIGINS must not be empty; refusing to start with an unbounded origin policy"))
	}
	if s.MaxBodyBytes <= 0 {
		return NewValidationError("server", "max_body_bytes", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}
	if q.WorkerCount < 1 || q.WorkerCount > 200 {
		return NewValidationError("queue", "worker_count",
			fmt.Errorf("must be between 1 and 200, got %d", q.WorkerCount))
	}
	if q.PerTenantConcurrency < 1 {
		return NewValidationError("queue", "per_tenant_concurrency",
			fmt.Errorf("must be at least 1, got %d", q.PerTenantConcurrency))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", fmt.Errorf("must be positive"))
	}
	if q.PollIntervalJitter < 0 || q.PollIntervalJitter >= q.PollInterval {
		return NewValidationError("queue", "poll_interval_jitter",
			fmt.Errorf("must be non-negative and less than poll_interval"))
	}
	if q.VisibilityTimeout <= 0 {
		return NewValidationError("queue", "visibility_timeout", fmt.Errorf("must be positive"))
	}
	if q.HeartbeatInterval <= 0 || q.HeartbeatInterval >= q.VisibilityTimeout {
		return NewValidationError("queue", "heartbeat_interval",
			fmt.Errorf("must be positive and less than visibility_timeout to prevent false orphan detection"))
	}
	if q.RetryBaseDelay <= 0 || q.RetryMaxDelay < q.RetryBaseDelay {
		return NewValidationError("queue", "retry_base_delay",
			fmt.Errorf("retry_max_delay must be >= retry_base_delay > 0"))
	}
	return nil
}

func (v *Validator) validateRateLimit() error {
	r := v.cfg.RateLimit
	if r == nil {
		return fmt.Errorf("rate_limit configuration is nil")
	}
	if r.DefaultCapacity <= 0 || r.DefaultRefillPerSecond <= 0 {
		return NewValidationError("rate_limit", "default_capacity",
			fmt.Errorf("capacity and refill rate must be positive"))
	}
	if r.UsageLowWatermark <= 0 || r.UsageHighWatermark <= r.UsageLowWatermark || r.UsageHighWatermark > 1 {
		return NewValidationError("rate_limit", "usage_high_watermark",
			fmt.Errorf("must satisfy 0 < low < high <= 1, got low=%v high=%v", r.UsageLowWatermark, r.UsageHighWatermark))
	}
	return nil
}

func (v *Validator) validateBreaker() error {
	b := v.cfg.Breaker
	if b == nil {
		return fmt.Errorf("breaker configuration is nil")
	}
	if b.FailThreshold == 0 {
		return NewValidationError("breaker", "fail_threshold", fmt.Errorf("must be positive"))
	}
	if b.FailRatio <= 0 || b.FailRatio > 1 {
		return NewValidationError("breaker", "fail_ratio", fmt.Errorf("must be in (0, 1]"))
	}
	if b.Cooldown <= 0 || b.MaxCooldown < b.Cooldown {
		return NewValidationError("breaker", "cooldown", fmt.Errorf("max_cooldown must be >= cooldown > 0"))
	}
	return nil
}

func (v *Validator) validateWindow() error {
	w := v.cfg.Window
	if w == nil {
		return fmt.Errorf("window configuration is nil")
	}
	if w.Hours <= 0 {
		return NewValidationError("window", "hours", fmt.Errorf("must be positive"))
	}
	if w.GraceMinutes < 0 {
		return NewValidationError("window", "grace_minutes", fmt.Errorf("must be non-negative"))
	}
	return nil
}

func (v *Validator) validateLLM() error {
	l := v.cfg.LLM
	if l == nil {
		return fmt.Errorf("llm configuration is nil")
	}
	if l.APIKey == "" {
		return NewValidationError("llm", "api_key", fmt.Errorf("LLM_API_KEY is required"))
	}
	if l.Model == "" {
		return NewValidationError("llm", "model", fmt.Errorf("must not be empty"))
	}
	if l.Timeout <= 0 {
		return NewValidationError("llm", "timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateManyChat() error {
	m := v.cfg.ManyChat
	if m == nil {
		return fmt.Errorf("manychat configuration is nil")
	}
	if m.Enabled && m.WebhookSecret == "" {
		return NewValidationError("manychat", "webhook_secret",
			fmt.Errorf("MANYCHAT_WEBHOOK_SECRET is required when manychat is enabled"))
	}
	return nil
}

func (v *Validator) validateGraph() error {
	g := v.cfg.Graph
	if g == nil {
		return fmt.Errorf("graph configuration is nil")
	}
	if g.AppSecret == "" {
		return NewValidationError("graph", "app_secret", fmt.Errorf("META_APP_SECRET is required"))
	}
	if g.VerifyToken == "" {
		return NewValidationError("graph", "verify_token", fmt.Errorf("IG_VERIFY_TOKEN is required"))
	}
	return nil
}

func (v *Validator) validateSecurity() error {
	s := v.cfg.Security
	if s == nil {
		return fmt.Errorf("security configuration is nil")
	}
	if len(s.EncryptionKeyHex) != 64 {
		return NewValidationError("security", "encryption_key_hex",
			fmt.Errorf("ENCRYPTION_KEY_HEX must be a 256-bit key encoded as 64 hex characters, got %d", len(s.EncryptionKeyHex)))
	}
	if s.AdminAPIKey == "" {
		return NewValidationError("security", "admin_api_key",
			fmt.Errorf("ADMIN_API_KEY is required to authenticate POST /api/v1/send"))
	}
	return nil
}

func (v *Validator) validateRedis() error {
	r := v.cfg.Redis
	if r == nil {
		return fmt.Errorf("redis configuration is nil")
	}
	if r.URL == "" {
		return NewValidationError("redis", "url", fmt.Errorf("REDIS_URL (or KV_URL) is required"))
	}
	if r.PoolSize <= 0 {
		return NewValidationError("redis", "pool_size", fmt.Errorf("must be positive"))
	}
	return nil
}
