package webhook

import (
	"encoding/json"
	"log/slog"

	"github.com/chatbridge-hq/chatbridge/pkg/models"
)

// manyChatEnvelope mirrors the subset of ManyChat's webhook payload
// this pipeline acts on: a single subscriber event relayed on behalf
// of the Instagram account ManyChat is bridging for.
type manyChatEnvelope struct {
	PageID     string `json:"page_id"`
	Subscriber struct {
		ID string `json:"id"`
	} `json:"subscriber"`
	Message struct {
		MID  string `json:"mid"`
		Text string `json:"text"`
	} `json:"message"`
	EventType string `json:"event_type"`
}

// parseManyChatEnvelope parses a ManyChat webhook body into at most
// one Interaction. ManyChat relays only plain-text message events to
// this pipeline; any other event_type is logged and dropped.
func parseManyChatEnvelope(body []byte) ([]Interaction, error) {
	var env manyChatEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	if env.EventType != "" && env.EventType != "message" {
		slog.Debug("webhook: dropping unrecognized manychat event_type", "event_type", env.EventType)
		return nil, nil
	}
	if env.Subscriber.ID == "" || env.PageID == "" {
		slog.Debug("webhook: manychat envelope missing subscriber or page id")
		return nil, nil
	}

	return []Interaction{{
		Type:          InteractionMessage,
		AccountID:     env.PageID,
		CustomerRef:   env.Subscriber.ID,
		PlatformMsgID: env.Message.MID,
		Content:       env.Message.Text,
		MessageType:   models.MessageTypeText,
	}}, nil
}
