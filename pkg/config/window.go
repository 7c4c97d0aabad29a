package config

import "time"

// WindowConfig parameterizes the 24-hour reply window enforced by
// pkg/window and consulted by the Delivery Bridge.
type WindowConfig struct {
	// Hours is the reply-window duration (default 24).
	Hours int `yaml:"hours" validate:"gt=0"`

	// GraceMinutes tolerates clock skew at the window boundary
	// (default 5).
	GraceMinutes int `yaml:"grace_minutes" validate:"gte=0"`
}

// Duration returns the configured window as a time.Duration.
func (w *WindowConfig) Duration() time.Duration {
	return time.Duration(w.Hours) * time.Hour
}

// Grace returns the configured clock-skew grace as a time.Duration.
func (w *WindowConfig) Grace() time.Duration {
	return time.Duration(w.GraceMinutes) * time.Minute
}

// DefaultWindowConfig returns the built-in window defaults.
func DefaultWindowConfig() *WindowConfig {
	return &WindowConfig{
		Hours:        24,
		GraceMinutes: 5,
	}
}
