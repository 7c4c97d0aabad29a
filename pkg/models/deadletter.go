package models

import (
	"encoding/json"
	"time"
)

// DeadLetter is the terminal resting place for a Job that exhausted
// its retry budget. Operators inspect, redrive, or redact these rows.
type DeadLetter struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	TenantID      string          `json:"tenant_id"`
	JobType       JobType         `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	LastError     string          `json:"last_error"`
	AttemptCount  int             `json:"attempt_count"`
	CreatedAt     time.Time       `json:"created_at"`
	RedrivenAt    *time.Time      `json:"redriven_at,omitempty"`
	RedactedAt    *time.Time      `json:"redacted_at,omitempty"`
}
