package models

import "time"

// Credential is a tenant's platform access token, 1..N per tenant,
// typed by Platform. The access token is always stored AEAD-encrypted
// (see pkg/crypto) and is never returned in cleartext outside the
// credential repository.
type Credential struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	Platform          Platform   `json:"platform"`
	PlatformAccountID string     `json:"platform_account_id"`
	EncryptedToken    []byte     `json:"-"`
	RefreshMetadata   []byte     `json:"-"` // opaque, platform-specific, encrypted at rest
	Active            bool       `json:"active"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
