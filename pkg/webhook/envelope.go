// Package webhook implements the Webhook Router: raw-body HMAC
// verification, idempotency admission, tenant resolution, and envelope
// parsing into a closed set of interaction variants, each handed off to
// the job queue as a single process_webhook job.
package webhook

import (
	"encoding/json"
	"log/slog"

	"github.com/chatbridge-hq/chatbridge/pkg/models"
)

// InteractionType enumerates the closed set of variants a Meta
// messaging envelope can carry. Anything else is logged and dropped,
// never coerced into one of these.
type InteractionType string

const (
	InteractionMessage    InteractionType = "message"
	InteractionStoryReply InteractionType = "story_reply"
	InteractionComment    InteractionType = "comment"
	InteractionPostback   InteractionType = "postback"
)

// Interaction is one parsed unit of work extracted from an envelope:
// exactly one process_webhook job is emitted per Interaction.
type Interaction struct {
	Type          InteractionType
	AccountID     string // the IG/Page id the event arrived for; resolves the tenant
	CustomerRef   string // platform-specific opaque customer id
	PlatformMsgID string
	Content       string
	MessageType   models.MessageType
}

// metaEnvelope mirrors the shape of Meta's webhook payload closely
// enough to extract the fields this pipeline needs; fields this
// pipeline does not act on are intentionally left unparsed.
type metaEnvelope struct {
	Object string     `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID        string             `json:"id"`
	Time      int64              `json:"time"`
	Messaging []metaMessagingEvt `json:"messaging"`
	Changes   []metaChange       `json:"changes"`
}

type metaMessagingEvt struct {
	Sender    metaParty   `json:"sender"`
	Recipient metaParty   `json:"recipient"`
	Message   *metaMessage `json:"message"`
	Postback  *metaPostback `json:"postback"`
}

type metaParty struct {
	ID string `json:"id"`
}

type metaMessage struct {
	MID          string          `json:"mid"`
	Text         string          `json:"text"`
	Attachments  []metaAttachment `json:"attachments"`
	ReplyTo      *metaReplyTo    `json:"reply_to"`
}

type metaAttachment struct {
	Type string `json:"type"`
}

type metaReplyTo struct {
	Story *metaStoryRef `json:"story"`
}

type metaStoryRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type metaPostback struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type metaChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type metaCommentValue struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From struct {
		ID string `json:"id"`
	} `json:"from"`
}

// ErrEmptyEnvelope is not an error the parser returns; an envelope with
// zero interactions is valid and yields an empty slice.

// ParseMetaEnvelope parses a raw Instagram/Messenger webhook body into
// the closed set of Interactions this pipeline understands. A JSON
// syntax error is returned to the caller as MALFORMED_PAYLOAD; an
// envelope that parses but carries no recognizable interaction simply
// yields an empty, non-error result.
func ParseMetaEnvelope(body []byte) ([]Interaction, error) {
	var env metaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	var out []Interaction
	for _, entry := range env.Entry {
		for _, evt := range entry.Messaging {
			if ia, ok := parseMessagingEvent(entry.ID, evt); ok {
				out = append(out, ia)
			}
		}
		for _, change := range entry.Changes {
			if ia, ok := parseChange(entry.ID, change); ok {
				out = append(out, ia)
			}
		}
	}
	return out, nil
}

func parseMessagingEvent(accountID string, evt metaMessagingEvt) (Interaction, bool) {
	switch {
	case evt.Postback != nil:
		return Interaction{
			Type:          InteractionPostback,
			AccountID:     accountID,
			CustomerRef:   evt.Sender.ID,
			PlatformMsgID: evt.Postback.MID,
			Content:       evt.Postback.Payload,
			MessageType:   models.MessageTypeText,
		}, true
	case evt.Message != nil && evt.Message.ReplyTo != nil && evt.Message.ReplyTo.Story != nil:
		return Interaction{
			Type:          InteractionStoryReply,
			AccountID:     accountID,
			CustomerRef:   evt.Sender.ID,
			PlatformMsgID: evt.Message.MID,
			Content:       evt.Message.Text,
			MessageType:   models.MessageTypeStoryReply,
		}, true
	case evt.Message != nil:
		return Interaction{
			Type:          InteractionMessage,
			AccountID:     accountID,
			CustomerRef:   evt.Sender.ID,
			PlatformMsgID: evt.Message.MID,
			Content:       evt.Message.Text,
			MessageType:   messageTypeForAttachments(evt.Message),
		}, true
	default:
		slog.Debug("webhook: dropping unrecognized messaging variant", "account_id", accountID)
		return Interaction{}, false
	}
}

func messageTypeForAttachments(m *metaMessage) models.MessageType {
	for _, att := range m.Attachments {
		switch att.Type {
		case "image":
			return models.MessageTypeImage
		case "video":
			return models.MessageTypeVideo
		case "sticker", "like_heart":
			return models.MessageTypeSticker
		}
	}
	return models.MessageTypeText
}

func parseChange(accountID string, change metaChange) (Interaction, bool) {
	if change.Field != "comments" {
		slog.Debug("webhook: dropping unrecognized change field", "field", change.Field, "account_id", accountID)
		return Interaction{}, false
	}

	var v metaCommentValue
	if err := json.Unmarshal(change.Value, &v); err != nil {
		slog.Warn("webhook: malformed comment change value", "account_id", accountID, "error", err)
		return Interaction{}, false
	}

	return Interaction{
		Type:          InteractionComment,
		AccountID:     accountID,
		CustomerRef:   v.From.ID,
		PlatformMsgID: v.ID,
		Content:       v.Text,
		MessageType:   models.MessageTypeComment,
	}, true
}
