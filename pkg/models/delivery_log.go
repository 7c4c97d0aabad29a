package models

import "time"

// Channel is the outbound delivery path a send attempt used.
type Channel string

const (
	ChannelManyChat        Channel = "manychat"
	ChannelGraphDirect     Channel = "graph_direct"
	ChannelTemplateFallback Channel = "template_fallback"
)

// Outcome is the terminal result of a single send attempt.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDelivered Outcome = "delivered"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeFailed    Outcome = "failed"
)

// DeliveryLog records a single send attempt made by the Delivery
// Bridge, one row per attempt (retries create additional rows).
type DeliveryLog struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	JobID           string    `json:"job_id"`
	MessageID       string    `json:"message_id"`
	ConversationID  string    `json:"conversation_id"`
	Channel         Channel   `json:"channel"`
	Outcome         Outcome   `json:"outcome"`
	UpstreamMsgID   string    `json:"upstream_message_id,omitempty"`
	AttemptNumber   int       `json:"attempt_number"`
	LatencyMs       int64     `json:"latency_ms"`
	ErrorClass      string    `json:"error_class,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
