package config

// ManyChatConfig configures the ManyChat Adapter. APIKey and
// WebhookSecret are read from the environment.
type ManyChatConfig struct {
	Enabled       bool   `yaml:"enabled"`
	APIKey        string `yaml:"-"`
	WebhookSecret string `yaml:"-" validate:"required_if=Enabled true"`
	BaseURL       string `yaml:"base_url" validate:"required"`

	// FlowIDs maps an intent/use-case name to a ManyChat flow id,
	// read from MANYCHAT_<NAME>_FLOW_ID environment variables.
	FlowIDs map[string]string `yaml:"-"`
}

// DefaultManyChatConfig returns the built-in ManyChat defaults.
func DefaultManyChatConfig() *ManyChatConfig {
	return &ManyChatConfig{
		Enabled: false,
		BaseURL: "https://api.manychat.com",
		FlowIDs: map[string]string{},
	}
}
