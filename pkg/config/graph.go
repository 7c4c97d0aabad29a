package config

import "time"

// GraphConfig configures the Graph API Adapter and the webhook
// handshake of the Webhook Router. AppSecret and VerifyToken are
// read from the environment.
type GraphConfig struct {
	AppSecret   string        `yaml:"-" validate:"required"`
	VerifyToken string        `yaml:"-" validate:"required"`
	BaseURL     string        `yaml:"base_url" validate:"required"`
	APIVersion  string        `yaml:"api_version" validate:"required"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
}

// DefaultGraphConfig returns the built-in Graph API defaults.
func DefaultGraphConfig() *GraphConfig {
	return &GraphConfig{
		BaseURL:    "https://graph.facebook.com",
		APIVersion: "v19.0",
		Timeout:    10 * time.Second,
	}
}
