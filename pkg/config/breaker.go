package config

import "time"

// BreakerConfig parameterizes the sony/gobreaker circuit breakers
// created per upstream endpoint class by pkg/breaker.
type BreakerConfig struct {
	// FailThreshold trips the breaker after this many consecutive
	// failures.
	FailThreshold uint32 `yaml:"fail_threshold" validate:"gt=0"`

	// FailRatio trips the breaker when the ratio of failures to
	// requests counted since the breaker last changed state meets or
	// exceeds this value. The counts are cumulative, not a rolling
	// window of the most recent requests.
	FailRatio float64 `yaml:"fail_ratio" validate:"gt=0,lte=1"`

	// MinRequestsForRatio is how many requests must have been counted
	// since the last state change before the ratio rule applies
	// (default 20 requests).
	MinRequestsForRatio uint32 `yaml:"min_requests_for_ratio" validate:"gt=0"`

	// Cooldown is the Open-state duration before a single Half-Open
	// probe is admitted.
	Cooldown time.Duration `yaml:"cooldown" validate:"gt=0"`

	// MaxCooldown bounds the doubling-on-repeated-failure growth of
	// Cooldown after a failed Half-Open probe.
	MaxCooldown time.Duration `yaml:"max_cooldown" validate:"gt=0"`
}

// DefaultBreakerConfig returns the built-in circuit breaker defaults.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailThreshold:       5,
		FailRatio:           0.5,
		MinRequestsForRatio: 20,
		Cooldown:            30 * time.Second,
		MaxCooldown:         5 * time.Minute,
	}
}
