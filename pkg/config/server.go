package config

// ServerConfig holds HTTP-layer settings not tied to a single upstream.
type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // gin mode: debug, release, test

	// CORSOrigins is a comma-separated allowlist. An empty allowlist
	// means the service refuses to start (CORS_ORIGINS).
	CORSOrigins []string `yaml:"-"`

	// MaxBodyBytes enforces the 512 KB webhook body ceiling.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`

	// Production gates the Strict-Transport-Security header.
	Production bool `yaml:"production"`
}

// SecurityConfig bundles the process-wide secrets not specific to a
// single upstream adapter.
type SecurityConfig struct {
	// EncryptionKeyHex is the 256-bit AEAD key (hex-encoded) used by
	// pkg/crypto to seal/open credential tokens.
	EncryptionKeyHex string `yaml:"-" validate:"len=64,hexadecimal"`

	// AdminAPIKey authenticates the tenant-facing POST /api/v1/send
	// endpoint. A bare-bones shared secret, not a
	// per-tenant credential system — onboarding and key rotation for
	// that belongs to the admin web UI.
	AdminAPIKey string `yaml:"-" validate:"required"`
}

// DefaultServerConfig returns the built-in HTTP server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:         "8080",
		Mode:         "release",
		MaxBodyBytes: 512 * 1024,
		Production:   false,
	}
}
