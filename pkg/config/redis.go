package config

import "time"

// RedisConfig parameterizes the go-redis/v9 client shared by the
// idempotency store, the rate limiter's usage watermarks, and the
// reply-window cache. The connection target comes from REDIS_URL,
// or from KV_URL when REDIS_URL is unset.
type RedisConfig struct {
	URL            string        `yaml:"-" validate:"required"`
	DialTimeout    time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gt=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0"`
	PoolSize       int           `yaml:"pool_size" validate:"gt=0"`
}

// DefaultRedisConfig returns the built-in Redis client defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxRetries:   3,
		PoolSize:     20,
	}
}
