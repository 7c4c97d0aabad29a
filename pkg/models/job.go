package models

import (
	"encoding/json"
	"time"
)

// JobType identifies the unit of work a Job represents. Each type has
// its own max-attempts policy (see pkg/config.MaxAttemptsForType).
type JobType string

const (
	JobTypeProcessWebhook  JobType = "process_webhook"
	JobTypeGenerateReply   JobType = "generate_reply"
	JobTypeDeliverOutbound JobType = "deliver_outbound"
	JobTypeFollowUp        JobType = "follow_up"
	JobTypeCleanup         JobType = "cleanup"
)

// Priority orders jobs within the queue: higher priority is dequeued
// first, FIFO within a priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// priorityRank gives each Priority a numeric weight for ORDER BY.
// Higher rank sorts first.
var priorityRank = map[Priority]int{
	PriorityUrgent: 3,
	PriorityHigh:   2,
	PriorityNormal: 1,
	PriorityLow:    0,
}

// Rank returns the numeric ordering weight of p; unrecognized
// priorities rank as PriorityNormal.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusInFlight  JobStatus = "in_flight"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDead      JobStatus = "dead"
)

// Job is a durable unit of work. Jobs carry their tenant id for
// isolation even though the queue itself is a cross-tenant table.
type Job struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	Type          JobType         `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Priority      Priority        `json:"priority"`
	AttemptCount  int             `json:"attempt_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	Status        JobStatus       `json:"status"`
	Deadline      *time.Time      `json:"deadline,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	ClaimedBy     *string         `json:"claimed_by,omitempty"`
	VisibleAt     *time.Time      `json:"visible_at,omitempty"` // set while in_flight
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ProcessWebhookPayload is the Job.Payload shape for JobTypeProcessWebhook.
type ProcessWebhookPayload struct {
	Platform        Platform `json:"platform"`
	InteractionType string   `json:"interaction_type"` // message, story_reply, comment, postback
	CustomerRef     string   `json:"customer_ref"`
	PlatformMsgID   string   `json:"platform_message_id"`
	Content         string   `json:"content"`
	MessageType     MessageType `json:"message_type"`
	ReceivedAt      time.Time `json:"received_at"`
}

// GenerateReplyPayload is the Job.Payload shape for JobTypeGenerateReply.
type GenerateReplyPayload struct {
	ConversationID string `json:"conversation_id"`
	InboundMessageID string `json:"inbound_message_id"`
}

// DeliverOutboundPayload is the Job.Payload shape for JobTypeDeliverOutbound.
// LockToken carries the per-conversation outbound lock (pkg/convlock)
// acquired by the generate_reply job onward, so deliver_outbound can
// extend it (best effort, without checking that it is still held)
// before sending and release it on completion, keeping at most one
// reply in flight per conversation.
type DeliverOutboundPayload struct {
	ConversationID      string `json:"conversation_id"`
	CandidateMessageID  string `json:"candidate_message_id"`
	LockToken           string `json:"lock_token,omitempty"`
}

// FollowUpPayload is the Job.Payload shape for JobTypeFollowUp.
type FollowUpPayload struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"` // policy_rejection, template_required, extraction_failed, delivery_failed
	Detail         string `json:"detail,omitempty"`
}
