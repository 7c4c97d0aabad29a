package models

import "time"

// WebhookEventStatus tracks an inbound webhook delivery through the
// idempotency and processing pipeline.
type WebhookEventStatus string

const (
	WebhookEventReceived  WebhookEventStatus = "received"
	WebhookEventAccepted  WebhookEventStatus = "accepted"
	WebhookEventDuplicate WebhookEventStatus = "duplicate"
	WebhookEventRejected  WebhookEventStatus = "rejected"
	WebhookEventProcessed WebhookEventStatus = "processed"
)

// WebhookEvent is retained only briefly (24-72h) for replay/dedupe —
// see pkg/idempotency and the webhook_events retention sweep in
// pkg/cleanup.
type WebhookEvent struct {
	ID             string             `json:"id"` // platform-supplied event id, or a derived digest
	TenantID       string             `json:"tenant_id"`
	Platform       Platform           `json:"platform"`
	ReceivedAt     time.Time          `json:"received_at"`
	Status         WebhookEventStatus `json:"status"`
	RawBodyDigest  string             `json:"raw_body_digest"`
}
