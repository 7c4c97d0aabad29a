package models

import "time"

// Direction is the flow of a Message relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageType classifies the content carried by a Message.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeVideo       MessageType = "video"
	MessageTypeSticker     MessageType = "sticker"
	MessageTypeStoryReply  MessageType = "story_reply"
	MessageTypeComment     MessageType = "comment"
	MessageTypeTemplate    MessageType = "template"
)

// DeliveryStatus tracks an outbound candidate through the AI
// Orchestrator and Delivery Bridge.
type DeliveryStatus string

const (
	DeliveryStatusNone            DeliveryStatus = ""
	DeliveryStatusPendingDelivery DeliveryStatus = "pending_delivery"
	DeliveryStatusSent            DeliveryStatus = "sent"
	DeliveryStatusFailed          DeliveryStatus = "failed"
	DeliveryStatusAbandonedPolicy DeliveryStatus = "abandoned_policy"
)

// Message belongs to exactly one Conversation. PlatformMessageID is
// unique within a platform and is the idempotency key for replay —
// persisting the same id twice must yield a single row.
type Message struct {
	ID                string         `json:"id"`
	ConversationID    string         `json:"conversation_id"`
	TenantID          string         `json:"tenant_id"`
	Direction         Direction      `json:"direction"`
	PlatformMessageID string         `json:"platform_message_id"`
	Content           string         `json:"content"`
	Type              MessageType    `json:"type"`
	AIConfidence      *float64       `json:"ai_confidence,omitempty"`
	AIIntent          *string        `json:"ai_intent,omitempty"`
	ProcessingTimeMs   *int64         `json:"processing_time_ms,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
