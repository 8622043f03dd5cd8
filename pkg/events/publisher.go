package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Publisher persists phase/run lifecycle events and broadcasts them
// via pg_notify for WebSocket delivery (pkg/events.ConnectionManager)
// and for any other in-cluster subscriber. Persistent events are
// stored in the events table then NOTIFYed within the same
// transaction; transient events (phase.progress) are NOTIFY-only.
type Publisher struct {
	pool *pgxpool.Pool
}

// NewPublisher creates a Publisher backed by pool.
func NewPublisher(pool *pgxpool.Pool) *Publisher {
	return &Publisher{pool: pool}
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// PublishPhaseStarted persists and broadcasts a phase.started event.
func (p *Publisher) PublishPhaseStarted(ctx context.Context, payload PhaseStartedPayload) error {
	payload.Type = EventTypePhaseStarted
	payload.Timestamp = now()
	return p.publish(ctx, payload.RunID, payload)
}

// PublishPhaseProgress broadcasts a phase.progress event (transient,
// no DB persistence — see persistedEventTypes).
func (p *Publisher) PublishPhaseProgress(ctx context.Context, payload PhaseProgressPayload) error {
	payload.Type = EventTypePhaseProgress
	payload.Timestamp = now()
	return p.publish(ctx, payload.RunID, payload)
}

// PublishPhaseReady persists and broadcasts a phase.ready event.
func (p *Publisher) PublishPhaseReady(ctx context.Context, payload PhaseReadyPayload) error {
	payload.Type = EventTypePhaseReady
	payload.Timestamp = now()
	return p.publish(ctx, payload.RunID, payload)
}

// PublishPhaseGatePassed persists and broadcasts a phase.gate.passed event.
func (p *Publisher) PublishPhaseGatePassed(ctx context.Context, payload PhaseGatePassedPayload) error {
	payload.Type = EventTypePhaseGatePassed
	payload.Timestamp = now()
	return p.publish(ctx, payload.RunID, payload)
}

// PublishPhaseGateFailed persists and broadcasts a phase.gate.failed event.
func (p *Publisher) PublishPhaseGateFailed(ctx context.Context, payload PhaseGateFailedPayload) error {
	payload.Type = EventTypePhaseGateFailed
	payload.Timestamp = now()
	return p.publish(ctx, payload.RunID, payload)
}

// PublishPhaseStalled persists and broadcasts a phase.stalled event.
func (p *Publisher) PublishPhaseStalled(ctx context.Context, payload PhaseStalledPayload) error {
	payload.Type = EventTypePhaseStalled
	payload.Timestamp = now()
	return p.publish(ctx, payload.RunID, payload)
}

// PublishPhaseCompleted persists and broadcasts a phase.completed event.
func (p *Publisher) PublishPhaseCompleted(ctx context.Context, payload PhaseCompletedPayload) error {
	payload.Type = EventTypePhaseCompleted
	payload.Timestamp = now()
	return p.publish(ctx, payload.RunID, payload)
}

// PublishRunPaused persists and broadcasts a run.paused event, both to
// the run's own channel and (transient copy) to the global runs
// channel for the dashboard's run list.
func (p *Publisher) PublishRunPaused(ctx context.Context, runID, reason, by string) error {
	return p.publishRunLifecycle(ctx, EventTypeRunPaused, runID, reason, by)
}

// PublishRunResumed persists and broadcasts a run.resumed event.
func (p *Publisher) PublishRunResumed(ctx context.Context, runID, by string) error {
	return p.publishRunLifecycle(ctx, EventTypeRunResumed, runID, "", by)
}

// PublishRunFailed persists and broadcasts a run.failed event.
func (p *Publisher) PublishRunFailed(ctx context.Context, runID, reason string) error {
	return p.publishRunLifecycle(ctx, EventTypeRunFailed, runID, reason, "")
}

// PublishRunCompleted persists and broadcasts a run.completed event.
func (p *Publisher) PublishRunCompleted(ctx context.Context, runID string) error {
	return p.publishRunLifecycle(ctx, EventTypeRunCompleted, runID, "", "")
}

func (p *Publisher) publishRunLifecycle(ctx context.Context, eventType, runID, reason, by string) error {
	payload := RunLifecyclePayload{Type: eventType, RunID: runID, Reason: reason, By: by, Timestamp: now()}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", eventType, err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, runID, RunChannel(runID), payloadJSON); err != nil {
		slog.Warn("failed to publish run lifecycle event to run channel", "run_id", runID, "event_type", eventType, "error", err)
		firstErr = err
	}
	if err := p.notifyOnly(ctx, GlobalRunsChannel, payloadJSON); err != nil {
		slog.Warn("failed to publish run lifecycle event to global channel", "run_id", runID, "event_type", eventType, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// publish marshals payload and routes it to persistAndNotify or
// notifyOnly depending on whether its type is in persistedEventTypes.
// payload must expose its "type" field as the first struct field
// tagged json:"type" so callers set it before calling publish.
func (p *Publisher) publish(ctx context.Context, runID string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal payload: %w", err)
	}

	var typed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payloadJSON, &typed); err != nil {
		return fmt.Errorf("events: inspect payload type: %w", err)
	}
	if !knownEventTypes[typed.Type] {
		return &ErrUnknownEventType{Type: typed.Type}
	}

	channel := RunChannel(runID)
	if persistedEventTypes[typed.Type] {
		return p.persistAndNotify(ctx, runID, channel, payloadJSON)
	}
	return p.notifyOnly(ctx, channel, payloadJSON)
}

// persistAndNotify persists a pre-marshaled event to the database and
// broadcasts via NOTIFY in a single transaction — pg_notify is
// transactional in Postgres, held until COMMIT, so a subscriber never
// sees a notification for a row it can't yet read back.
func (p *Publisher) persistAndNotify(ctx context.Context, runID, channel string, payloadJSON []byte) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("events: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var eventID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO events (run_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		runID, channel, payloadJSON, time.Now().UTC(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("events: persist event: %w", err)
	}

	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("events: pg_notify: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("events: commit: %w", err)
	}
	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without
// persisting to the events table.
func (p *Publisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("events: pg_notify: %w", err)
	}
	return nil
}

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for
// NOTIFY delivery (so WebSocket clients can track catchup position)
// and truncates if the result exceeds Postgres's NOTIFY payload limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("events: unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enriched, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("events: marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(string(enriched))
}

// truncateIfNeeded returns payloadStr as-is if it fits within
// Postgres's 8000-byte NOTIFY limit, otherwise a minimal truncation
// envelope carrying only the routing fields a client needs to fetch
// the full event from the database.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		RunID     string `json:"run_id"`
		Phase     string `json:"phase,omitempty"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("events: extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"run_id":    routing.RunID,
		"truncated": true,
	}
	if routing.Phase != "" {
		truncated["phase"] = routing.Phase
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("events: marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
