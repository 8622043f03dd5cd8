// Package entitystore is the Postgres-backed persistence for the
// orchestrator's secondary entities: artifacts, budget events, quota
// violations, preemption history, and SEM interventions. pkg/runstore
// owns runs/phase executions/tasks; pkg/ledger owns the append-only
// ledger; this package fills in the remaining tables the original
// migrations declared (artifacts, tenant_quotas/quota_violations,
// budget_events, preemption_histories, sem_interventions) but that had
// no Go-side writer yet.
package entitystore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/pipeforge/runcore/pkg/models"
)

// Store persists artifacts, budget events, quota violations, and SEM
// interventions. It satisfies masking.ArtifactReader, budget.EventRecorder,
// quota.ViolationRecorder, quota.HealthInputs, and sem.InterventionRecorder
// structurally — no shared interface package, matching this repo's
// per-package narrow-interface convention.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveArtifact inserts an artifact row, including inline content for
// artifacts small enough to round-trip through Postgres directly rather
// than an external object store (storageURI stays empty in that case).
func (s *Store) SaveArtifact(ctx context.Context, runID, taskID string, artifact models.Artifact, content string) error {
	if artifact.ID == "" {
		artifact.ID = ulid.Make().String()
	}
	when := artifact.When
	if when.IsZero() {
		when = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts
			(artifact_id, run_id, task_id, content_hash, type, size_bytes, storage_uri,
			 producer, input_artifact_ids, tool_version, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (artifact_id) DO NOTHING`,
		artifact.ID, runID, taskID, artifact.ContentHash, artifact.Type, artifact.SizeBytes,
		nullableString(artifact.StorageURI), artifact.Producer, artifact.InputArtifactIDs,
		nullableString(artifact.ToolVersion), content, when,
	)
	if err != nil {
		return fmt.Errorf("entitystore.SaveArtifact: %w", err)
	}
	return nil
}

// ReadArtifact satisfies masking.ArtifactReader: it returns the artifact's
// inlined content. An artifact stored only via storage_uri (no inline
// content) is out of scope here — that path belongs to whatever object
// store client owns storage_uri, not this Postgres-backed reader.
func (s *Store) ReadArtifact(ctx context.Context, artifactID string) (string, error) {
	var content *string
	err := s.pool.QueryRow(ctx, `SELECT content FROM artifacts WHERE artifact_id = $1`, artifactID).Scan(&content)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("entitystore.ReadArtifact: artifact %s not found", artifactID)
	}
	if err != nil {
		return "", fmt.Errorf("entitystore.ReadArtifact: %w", err)
	}
	if content == nil {
		return "", fmt.Errorf("entitystore.ReadArtifact: artifact %s has no inline content", artifactID)
	}
	return *content, nil
}

// RecordBudgetEvent satisfies budget.EventRecorder.
func (s *Store) RecordBudgetEvent(ctx context.Context, event models.BudgetEvent) error {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	tasksAffected := event.TasksAffected
	if tasksAffected == nil {
		tasksAffected = []string{}
	}
	classes := make([]string, 0, len(event.PriorityClassesPreempted))
	for _, c := range event.PriorityClassesPreempted {
		classes = append(classes, string(c))
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO budget_events
			(id, run_id, tenant_id, total, spent, remaining, percent_used,
			 event_type, threshold, action, tasks_affected, priority_classes_preempted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		event.ID, event.RunID, event.TenantID, event.Total, event.Spent, event.Remaining,
		event.PercentUsed, string(event.EventType), event.Threshold, event.Action,
		tasksAffected, classes,
	)
	if err != nil {
		return fmt.Errorf("entitystore.RecordBudgetEvent: %w", err)
	}
	return nil
}

// RecordViolation satisfies quota.ViolationRecorder.
func (s *Store) RecordViolation(ctx context.Context, v models.QuotaViolation) error {
	if v.ID == "" {
		v.ID = ulid.Make().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_violations
			(id, tenant_id, resource_type, requested_amount, quota_amount,
			 overage_percent, severity, action, resolved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.TenantID, string(v.ResourceType), v.RequestedAmount, v.QuotaAmount,
		v.OveragePercent, string(v.Severity), v.Action, v.Resolved,
	)
	if err != nil {
		return fmt.Errorf("entitystore.RecordViolation: %w", err)
	}
	return nil
}

// UnresolvedViolationsInLastHour satisfies quota.HealthInputs.
func (s *Store) UnresolvedViolationsInLastHour(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM quota_violations
		 WHERE tenant_id = $1 AND resolved = false AND created_at >= now() - interval '1 hour'`,
		tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("entitystore.UnresolvedViolationsInLastHour: %w", err)
	}
	return count, nil
}

// semTriggerColumn maps models.SEMTrigger's camelCase wire values onto the
// sem_interventions.trigger column's snake_case check constraint.
func semTriggerColumn(t models.SEMTrigger) string {
	switch t {
	case models.SEMTriggerHeartbeatTimeout:
		return "heartbeat_timeout"
	case models.SEMTriggerStalled:
		return "stalled"
	case models.SEMTriggerSchemaFailure:
		return "schema_failure"
	case models.SEMTriggerToolFailure:
		return "tool_failure"
	case models.SEMTriggerGateDeadlock:
		return "gate_deadlock"
	case models.SEMTriggerUnderperformance:
		return "underperformance"
	default:
		return string(t)
	}
}

// RecordIntervention satisfies sem.InterventionRecorder. It upserts on
// intervention_id so the same Store call covers both the initial claim
// and the terminal completed/failed update.
func (s *Store) RecordIntervention(ctx context.Context, intervention models.SEMIntervention) error {
	if intervention.ID == "" {
		intervention.ID = ulid.Make().String()
	}
	claimedAt := intervention.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now().UTC()
	}
	toolsUsed := intervention.ToolsUsed
	if toolsUsed == nil {
		toolsUsed = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sem_interventions
			(intervention_id, run_id, phase, task_id, trigger, trigger_details, original_doer,
			 context_snapshot, micro_plan, tools_used, status, gate_score, claimed_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (intervention_id) DO UPDATE SET
			tools_used = EXCLUDED.tools_used,
			status = EXCLUDED.status,
			gate_score = EXCLUDED.gate_score,
			completed_at = EXCLUDED.completed_at`,
		intervention.ID, intervention.RunID, intervention.Phase, intervention.TaskID,
		semTriggerColumn(intervention.Trigger), nullableString(intervention.ContextSnapshot.TriggerDetails),
		intervention.OriginalDoer, jsonOf(intervention.ContextSnapshot), jsonOfOrNil(intervention.MicroPlan),
		toolsUsed, string(intervention.Status), intervention.GateScore, claimedAt, intervention.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("entitystore.RecordIntervention: %w", err)
	}
	return nil
}

// RecordPreemption satisfies scheduler.HistoryRecorder, persisting one row
// per preemption to preemption_histories (migration 000007).
func (s *Store) RecordPreemption(ctx context.Context, record models.PreemptionRecord) error {
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO preemption_histories
			(id, run_id, task_id, reason, resource_type, threshold, priority_class, checkpoint_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID, record.RunID, record.TaskID, record.Reason, nullableString(record.ResourceType),
		record.Threshold, string(record.PriorityClass), nullableString(record.CheckpointID), createdAt,
	)
	if err != nil {
		return fmt.Errorf("entitystore.RecordPreemption: %w", err)
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
