package config

import "time"

// RateLimitConfig seeds the token-bucket defaults used by pkg/ratelimit
// for (tenant, upstream, endpoint_class) keys not otherwise overridden.
type RateLimitConfig struct {
	DefaultCapacity        float64       `yaml:"default_capacity" validate:"gt=0"`
	DefaultRefillPerSecond float64       `yaml:"default_refill_per_second" validate:"gt=0"`

	// UsageHighWatermark/LowWatermark are the adaptive-shrink
	// thresholds: above High, shrink capacity 50% and
	// add jitter; below Low, restore baseline capacity.
	UsageHighWatermark float64 `yaml:"usage_high_watermark" validate:"gt=0,lte=1"`
	UsageLowWatermark  float64 `yaml:"usage_low_watermark" validate:"gt=0,lte=1"`

	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gt=0"`
}

// DefaultRateLimitConfig returns the built-in rate-limit defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		DefaultCapacity:        20,
		DefaultRefillPerSecond: 5,
		UsageHighWatermark:     0.90,
		UsageLowWatermark:      0.75,
		CleanupInterval:        5 * time.Minute,
	}
}
