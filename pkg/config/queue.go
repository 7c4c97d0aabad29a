package config

import "time"

// QueueConfig contains job queue and worker pool configuration. These
// values control how jobs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per process.
	// Each worker independently polls and processes jobs.
	WorkerCount int `yaml:"worker_count" validate:"gte=1,lte=200"`

	// PerTenantConcurrency caps how many jobs for a single tenant may
	// be in_flight at once, across all workers in the process.
	PerTenantConcurrency int `yaml:"per_tenant_concurrency" validate:"gte=1"`

	// PollInterval is the base interval for checking pending jobs.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`

	// PollIntervalJitter is random jitter added to PollInterval.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter" validate:"gte=0"`

	// VisibilityTimeout is how long a claimed job stays invisible to
	// other workers before it is eligible for re-delivery.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" validate:"gt=0"`

	// GracefulShutdownTimeout bounds how long shutdown waits for the
	// worker pool's Stop to let in-flight jobs finish; jobs still
	// unfinished then stay in_flight and are re-enqueued by orphan
	// recovery.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout" validate:"gt=0"`

	// OrphanDetectionInterval is how often to scan for in_flight jobs
	// whose visibility timeout lapsed without a heartbeat.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval" validate:"gt=0"`

	// HeartbeatInterval is how often an in-flight job's claim is
	// refreshed to signal liveness to orphan detection.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"gt=0"`

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff
	// schedule: next_attempt_at = now + min(max, base*2^attempt) * jitter.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" validate:"gte=0"`
}

// MaxAttemptsForType returns the maximum delivery attempts allowed
// before a job of the given type is dead-lettered.
func MaxAttemptsForType(jobType string) int {
	switch jobType {
	case "process_webhook":
		return 5
	case "generate_reply":
		return 3
	case "deliver_outbound":
		return 5
	case "follow_up":
		return 8
	default:
		return 3
	}
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		PerTenantConcurrency:    16,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      250 * time.Millisecond,
		VisibilityTimeout:       30 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
		OrphanDetectionInterval: 1 * time.Minute,
		HeartbeatInterval:       10 * time.Second,
		RetryBaseDelay:          1 * time.Second,
		RetryMaxDelay:           60 * time.Second,
	}
}
