package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge-hq/chatbridge/pkg/models"
)

func TestParseMetaEnvelope_HappyPathMessage(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[{"id":"IGBA1","time":1700000000,
		"messaging":[{"sender":{"id":"U1"},"recipient":{"id":"IGBA1"},
		"message":{"mid":"mid.1","text":"hello"}}]}]}`)

	out, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, InteractionMessage, out[0].Type)
	assert.Equal(t, "IGBA1", out[0].AccountID)
	assert.Equal(t, "U1", out[0].CustomerRef)
	assert.Equal(t, "mid.1", out[0].PlatformMsgID)
	assert.Equal(t, "hello", out[0].Content)
	assert.Equal(t, models.MessageTypeText, out[0].MessageType)
}

func TestParseMetaEnvelope_StoryReply(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[{"id":"IGBA1","messaging":[
		{"sender":{"id":"U1"},"recipient":{"id":"IGBA1"},
		"message":{"mid":"mid.2","text":"nice story","reply_to":{"story":{"id":"S1","url":"https://x"}}}}]}]}`)

	out, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, InteractionStoryReply, out[0].Type)
	assert.Equal(t, models.MessageTypeStoryReply, out[0].MessageType)
}

func TestParseMetaEnvelope_Postback(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[{"id":"IGBA1","messaging":[
		{"sender":{"id":"U1"},"recipient":{"id":"IGBA1"},
		"postback":{"mid":"mid.3","title":"Yes","payload":"CONFIRM"}}]}]}`)

	out, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, InteractionPostback, out[0].Type)
	assert.Equal(t, "CONFIRM", out[0].Content)
}

func TestParseMetaEnvelope_CommentChange(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[{"id":"IGBA1","changes":[
		{"field":"comments","value":{"id":"C1","text":"love it","from":{"id":"U2"}}}]}]}`)

	out, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, InteractionComment, out[0].Type)
	assert.Equal(t, "U2", out[0].CustomerRef)
	assert.Equal(t, models.MessageTypeComment, out[0].MessageType)
}

func TestParseMetaEnvelope_ImageAttachment(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[{"id":"IGBA1","messaging":[
		{"sender":{"id":"U1"},"recipient":{"id":"IGBA1"},
		"message":{"mid":"mid.4","attachments":[{"type":"image"}]}}]}]}`)

	out, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.MessageTypeImage, out[0].MessageType)
}

func TestParseMetaEnvelope_ZeroInteractionsIsNotAnError(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[{"id":"IGBA1","time":1700000000}]}`)

	out, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseMetaEnvelope_UnrecognizedChangeFieldDropped(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[{"id":"IGBA1","changes":[
		{"field":"ratings","value":{"score":5}}]}]}`)

	out, err := ParseMetaEnvelope(body)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseMetaEnvelope_MalformedJSONIsAnError(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[`)

	_, err := ParseMetaEnvelope(body)
	require.Error(t, err)
}

func TestParseManyChatEnvelope_HappyPath(t *testing.T) {
	body := []byte(`{"page_id":"IGBA1","subscriber":{"id":"U1"},"message":{"mid":"mc.1","text":"hi"},"event_type":"message"}`)

	out, err := parseManyChatEnvelope(body)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "IGBA1", out[0].AccountID)
	assert.Equal(t, "U1", out[0].CustomerRef)
}

func TestParseManyChatEnvelope_UnrecognizedEventTypeDropped(t *testing.T) {
	body := []byte(`{"page_id":"IGBA1","subscriber":{"id":"U1"},"event_type":"tag_added"}`)

	out, err := parseManyChatEnvelope(body)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseManyChatEnvelope_MalformedJSONIsAnError(t *testing.T) {
	_, err := parseManyChatEnvelope([]byte(`not json`))
	require.Error(t, err)
}
