package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token      string
	Channel    string
	ConsoleURL string
}

// FollowUpInput describes a conversation that a follow_up job has routed to
// an operator because the pipeline could not reply automatically.
type FollowUpInput struct {
	ConversationID string
	TenantID       string
	Reason         string // policy_rejection, template_required, extraction_failed, delivery_failed
	Detail         string
}

// DeadLetterInput describes a job that exhausted its retry budget.
type DeadLetterInput struct {
	JobID     string
	TenantID  string
	JobType   string
	LastError string
}

// Service posts operator-facing notifications to a single Slack channel.
// Nil-safe: all methods are no-ops when the service is nil, so callers can
// construct it once at startup and pass a possibly-nil pointer everywhere.
type Service struct {
	client     *Client
	consoleURL string
	logger     *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty, so a disabled SlackConfig
// silently yields a no-op notifier.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:     NewClient(cfg.Token, cfg.Channel),
		consoleURL: cfg.ConsoleURL,
		logger:     slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing against a mock API server.
func NewServiceWithClient(client *Client, consoleURL string) *Service {
	return &Service{
		client:     client,
		consoleURL: consoleURL,
		logger:     slog.Default().With("component", "slack-service"),
	}
}

// NotifyFollowUp posts a notification for a conversation that needs a human
// reply. Fail-open: errors are logged, never returned, so a Slack outage
// never blocks job processing.
func (s *Service) NotifyFollowUp(ctx context.Context, input FollowUpInput) {
	if s == nil {
		return
	}

	blocks := BuildFollowUpMessage(input.ConversationID, input.Reason, input.Detail, s.consoleURL)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send follow_up notification",
			"conversation_id", input.ConversationID,
			"tenant_id", input.TenantID,
			"reason", input.Reason,
			"error", err)
	}
}

// NotifyDeadLetter posts a notification for a job that was dead-lettered.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyDeadLetter(ctx context.Context, input DeadLetterInput) {
	if s == nil {
		return
	}

	blocks := BuildDeadLetterMessage(input.JobID, input.JobType, input.LastError, s.consoleURL)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send dead_letter notification",
			"job_id", input.JobID,
			"tenant_id", input.TenantID,
			"job_type", input.JobType,
			"error", err)
	}
}
