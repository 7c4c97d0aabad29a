package models

import "time"

// AuditEntry is an append-only record of an administrative or
// policy-relevant action: credential rotation, tenant suspension,
// manual redrive, template approval.
type AuditEntry struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ActorID        string    `json:"actor_id"`
	Action         string    `json:"action"`
	Target         string    `json:"target"`
	BeforeDigest   string    `json:"before_digest,omitempty"`
	AfterDigest    string    `json:"after_digest,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
