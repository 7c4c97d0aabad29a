package config

import "time"

// RetentionConfig controls data retention and cleanup behavior,
// enforced by pkg/cleanup.
type RetentionConfig struct {
	// WebhookEventTTL bounds how long WebhookEvent rows are kept for
	// replay/dedupe before the cleanup sweep deletes them (24-72h
	// typical).
	WebhookEventTTL time.Duration `yaml:"webhook_event_ttl" validate:"gt=0"`

	// MessageAuditWindowDays is how many days Message rows of a
	// resolved conversation survive, counted from the conversation's
	// last update, before being hard-deleted.
	MessageAuditWindowDays int `yaml:"message_audit_window_days" validate:"gt=0"`

	// DeadLetterRetentionDays is how long redacted/redriven dead
	// letters are kept before being purged.
	DeadLetterRetentionDays int `yaml:"dead_letter_retention_days" validate:"gt=0"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gt=0"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		WebhookEventTTL:         72 * time.Hour,
		MessageAuditWindowDays:  90,
		DeadLetterRetentionDays: 30,
		CleanupInterval:         1 * time.Hour,
	}
}
