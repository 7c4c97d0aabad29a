package manychat

import "github.com/chatbridge-hq/chatbridge/pkg/signature"

// VerifyWebhook runs the shared HMAC check with the ManyChat webhook
// secret.
func VerifyWebhook(secret string, body []byte, signatureHeader string) error {
	return signature.Verify(secret, body, signatureHeader)
}
