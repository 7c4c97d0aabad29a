package slack

import (
	"fmt"
	"strings"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
)

// maxBlockTextLength is the rune budget applied to free-form text placed in
// a single Block Kit section before Slack itself starts truncating it.
const maxBlockTextLength = 2900

// followUpReasonLabel maps a FollowUpPayload.Reason to an operator-facing
// phrase. Unrecognized reasons fall back to the raw string.
var followUpReasonLabel = map[string]string{
	"policy_rejection":  "Reply blocked by policy",
	"template_required": "Outside 24h window, template required",
	"extraction_failed": "Could not extract a reply from the model",
	"delivery_failed":   "Delivery exhausted its retry budget",
}

// BuildFollowUpMessage renders the Block Kit payload for a follow_up job:
// a conversation needing a human reply, with the reason it could not be
// handled automatically and a deep link into the operator console.
func BuildFollowUpMessage(conversationID, reason, detail, consoleURL string) []goslack.Block {
	label, ok := followUpReasonLabel[reason]
	if !ok {
		label = reason
	}

	header := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf(":bell: *Needs a human reply* — %s", label), false, false),
		nil, nil,
	)

	blocks := []goslack.Block{header}

	if detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(detail), false, false),
			nil, nil,
		))
	}

	if consoleURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "Open Conversation", false, false))
		btn.URL = fmt.Sprintf("%s/conversations/%s", strings.TrimRight(consoleURL, "/"), conversationID)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

// BuildDeadLetterMessage renders the Block Kit payload for a job that
// exhausted its retry budget and landed in the dead-letter table.
func BuildDeadLetterMessage(jobID, jobType, lastError, consoleURL string) []goslack.Block {
	header := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf(":skull: *Job dead-lettered* — `%s`", jobType), false, false),
		nil, nil,
	)

	blocks := []goslack.Block{header}

	if lastError != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(lastError), false, false),
			nil, nil,
		))
	}

	if consoleURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "Inspect Dead Letter", false, false))
		btn.URL = fmt.Sprintf("%s/dead-letters/%s", strings.TrimRight(consoleURL, "/"), jobID)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

// truncateForSlack bounds text to maxBlockTextLength runes, appending a
// marker so operators know the message was cut rather than empty.
func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_...truncated_"
}
