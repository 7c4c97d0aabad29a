package config

// SlackConfig configures the operator-notification channel used by
// pkg/slack when a follow_up job is enqueued or a job is
// dead-lettered. BotToken is read from the environment.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"-" validate:"required_if=Enabled true"`
	Channel  string `yaml:"-" validate:"required_if=Enabled true"`

	// ConsoleURL is the base URL of the operator console; notifications
	// link into it (/conversations/<id>, /dead-letters/<id>).
	ConsoleURL string `yaml:"-"`
}

// DefaultSlackConfig returns the built-in Slack defaults.
func DefaultSlackConfig() *SlackConfig {
	return &SlackConfig{
		Enabled: false,
	}
}
