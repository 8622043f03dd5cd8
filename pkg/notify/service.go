package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/models"
)

// Service delivers run-lifecycle Slack notifications. Nil-safe: every
// method is a no-op when the receiver is nil, so wiring can pass a nil
// *Service when Slack isn't configured without callers needing to check.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// New creates a Service from the loaded Slack config. Returns nil if
// Slack notifications aren't enabled or the channel/token are unset —
// the token itself is resolved by the caller from cfg.TokenEnv, since
// pkg/config only carries the env var name, not secret values.
func New(cfg *config.SlackYAMLConfig, token, dashboardURL string) *Service {
	if cfg == nil || cfg.Enabled == nil || !*cfg.Enabled || token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(token, cfg.Channel),
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NewWithClient builds a Service around a pre-built Client, for tests
// against a mock Slack API server.
func NewWithClient(client *Client, dashboardURL string) *Service {
	return &Service{client: client, dashboardURL: dashboardURL, logger: slog.Default().With("component", "notify-service")}
}

// NotifyRunPaused implements pkg/workflow.Notifier. Fail-open: delivery
// errors are logged, never returned — a Slack outage must never block
// the run state machine.
func (s *Service) NotifyRunPaused(ctx context.Context, run *models.Run, reason string) {
	if s == nil {
		return
	}
	blocks := buildPausedMessage(run, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send run-paused notification", "run_id", run.ID, "error", err)
	}
}

// NotifyRunFailed implements pkg/workflow.Notifier.
func (s *Service) NotifyRunFailed(ctx context.Context, run *models.Run, reason string) {
	if s == nil {
		return
	}
	blocks := buildFailedMessage(run, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send run-failed notification", "run_id", run.ID, "error", err)
	}
}

// NotifyGateEscalated implements pkg/workflow.Notifier.
func (s *Service) NotifyGateEscalated(ctx context.Context, run *models.Run, phase string, result *models.GateResult) {
	if s == nil {
		return
	}
	blocks := buildGateEscalatedMessage(run, phase, result, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send gate-escalated notification", "run_id", run.ID, "phase", phase, "error", err)
	}
}
