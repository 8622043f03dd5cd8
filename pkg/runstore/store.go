// Package runstore is the Postgres-backed implementation of
// pkg/workflow.RunStore: it persists runs and phase executions and hands
// the Workflow Engine its next unit of work via a claim-with-lease query,
// the raw-SQL analogue of a `SELECT ... FOR UPDATE SKIP LOCKED` queue pop.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/pipeforge/runcore/pkg/models"
	"github.com/pipeforge/runcore/pkg/workflow"
)

// ErrRunNotFound is returned by GetRun when no run exists with the
// given ID. It deliberately sits outside the pkg/orcherr taxonomy:
// a missing lookup isn't a run-processing failure to classify for
// retry/escalation, it's a 404 for whoever asked.
var ErrRunNotFound = errors.New("runstore: run not found")

// claimLease is how long a claim survives without a SaveRun refreshing
// it before another engine instance is allowed to steal the row back,
// the same orphan-reclaim window session_service.FindOrphanedSessions
// implements for a crashed worker's in-progress session.
const claimLease = 5 * time.Minute

// nonPollableStates are the run states ClaimNextRun never hands out:
// paused runs wait for an operator, and failed/cancelled/ga runs are done.
var nonPollableStates = []models.RunState{
	models.RunStatePaused, models.RunStateFailed, models.RunStateCancelled, models.RunStateGA,
}

// Store persists runs and phase executions in Postgres.
type Store struct {
	pool     *pgxpool.Pool
	engineID string
}

// New creates a Store. engineID tags claimed rows so FindOrphanedRuns
// (and observability tooling) can tell which worker owns a run.
func New(pool *pgxpool.Pool, engineID string) *Store {
	return &Store{pool: pool, engineID: engineID}
}

var _ workflow.RunStore = (*Store)(nil)

// CreateRun inserts a new run in models.RunStateCreated. run.ID is
// generated as a ULID (time-sortable, matching pkg/ledger's entry IDs)
// if not already set.
func (s *Store) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = ulid.Make().String()
	}
	if run.State == "" {
		run.State = models.RunStateCreated
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs
			(run_id, tenant_id, user_id, idea_spec_id, state,
			 max_retries, max_cost_usd, max_tokens, max_tool_minutes, max_wallclock_minutes,
			 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.TenantID, run.UserID, run.IdeaSpecID, string(run.State),
		maxRetriesOrDefault(run.Budget.MaxRetries), run.Budget.MaxCostUSD, run.Budget.MaxTokens,
		run.Budget.MaxToolMinutes, run.Budget.MaxWallclockMinutes, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("runstore.CreateRun: %w", err)
	}
	return nil
}

func maxRetriesOrDefault(n int) int {
	if n <= 0 {
		return 3
	}
	return n
}

// GetRun loads a single run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.pool.QueryRow(ctx, runSelectColumns+` FROM runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("runstore.GetRun: run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("runstore.GetRun: %w", err)
	}
	return run, nil
}

// ClaimNextRun atomically claims the oldest pollable run not already held
// under an unexpired lease: select the candidate row FOR UPDATE SKIP
// LOCKED (so concurrent engine instances never block on each other), then
// stamp it with this engine's claim inside the same transaction.
func (s *Store) ClaimNextRun(ctx context.Context) (*models.Run, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("runstore.ClaimNextRun: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, runSelectColumns+`
		FROM runs
		WHERE state NOT IN ('paused', 'failed', 'cancelled', 'ga')
		  AND (claimed_at IS NULL OR claimed_at < $1)
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		time.Now().UTC().Add(-claimLease),
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.ErrNoRunsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("runstore.ClaimNextRun: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE runs SET claimed_by = $1, claimed_at = $2 WHERE run_id = $3`, s.engineID, now, run.ID); err != nil {
		return nil, fmt.Errorf("runstore.ClaimNextRun: stamp claim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("runstore.ClaimNextRun: commit: %w", err)
	}
	return run, nil
}

// SaveRun persists run's current state and counters. The claim is
// released (cleared) once the run reaches a state ClaimNextRun won't
// poll again for, and otherwise refreshed so the lease doesn't expire
// out from under a still-in-flight ProcessRun loop.
func (s *Store) SaveRun(ctx context.Context, run *models.Run) error {
	run.UpdatedAt = time.Now().UTC()

	claimedBy, claimedAt := s.engineID, &run.UpdatedAt
	if isTerminalOrPaused(run.State) {
		claimedBy, claimedAt = "", nil
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET
			state = $1, paused_from_state = $2, pause_reason = $3,
			cumulative_cost_usd = $4, cumulative_tokens = $5, retry_count = $6,
			updated_at = $7, completed_at = $8,
			claimed_by = NULLIF($9, ''), claimed_at = $10
		 WHERE run_id = $11`,
		string(run.State), nullableRunState(run.PausedFromState), nullableString(run.PauseReason),
		run.CumulativeCostUSD, run.CumulativeTokens, run.RetryCount,
		run.UpdatedAt, run.CompletedAt,
		claimedBy, claimedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("runstore.SaveRun: %w", err)
	}
	return nil
}

func isTerminalOrPaused(state models.RunState) bool {
	for _, s := range nonPollableStates {
		if state == s {
			return true
		}
	}
	return false
}

// SavePhaseExecution upserts a phase execution keyed on (run_id,
// phase_name, attempt): a phase attempt moves through pending ->
// running -> completed/failed/awaiting_gate, re-saved at each step.
func (s *Store) SavePhaseExecution(ctx context.Context, exec models.PhaseExecution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO phase_executions
			(phase_execution_id, run_id, phase_name, attempt, status, parallelism_mode,
			 duration_ms, cost_usd, tokens, tool_minutes, gate_score, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (run_id, phase_name, attempt) DO UPDATE SET
			status = EXCLUDED.status,
			duration_ms = EXCLUDED.duration_ms,
			cost_usd = EXCLUDED.cost_usd,
			tokens = EXCLUDED.tokens,
			tool_minutes = EXCLUDED.tool_minutes,
			gate_score = EXCLUDED.gate_score,
			completed_at = EXCLUDED.completed_at`,
		exec.ID(), exec.RunID, exec.PhaseName, exec.Attempt, string(exec.Status), string(exec.ParallelismMode),
		nullableDuration(exec.DurationMS), exec.CostUSD, exec.Tokens, exec.ToolMinutes,
		exec.GateScore, startedAtOrNow(exec.StartedAt), exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("runstore.SavePhaseExecution: %w", err)
	}
	return nil
}

func startedAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// LoadPhaseTasks returns every task declared for run/phase, in priority
// queue order, the same ordering the priority_queue view exposes.
func (s *Store) LoadPhaseTasks(ctx context.Context, runID string, phase string) ([]*models.TaskSpec, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, run_id, phase, type, target, input, dependencies, idempotence_key,
			priority_class, budget_usd, budget_wallclock_ms, max_retries,
			status, preempted, preemption_count, enqueued_at_nanos, cost_usd, retry_count,
			created_at, started_at, completed_at, error_message
		 FROM tasks
		 WHERE run_id = $1 AND phase = $2
		 ORDER BY enqueued_at_nanos ASC`,
		runID, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("runstore.LoadPhaseTasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.TaskSpec
	for rows.Next() {
		var t models.TaskSpec
		var typ, priority, status string
		var maxRetries int
		var inputJSON []byte
		var idempotenceKey *string
		if err := rows.Scan(
			&t.ID, &t.RunID, &t.Phase, &typ, &t.Target, &inputJSON, &t.Dependencies, &idempotenceKey,
			&priority, &t.Budget.USD, &t.Budget.WallclockMS, &maxRetries,
			&status, &t.Preempted, &t.PreemptionCount, &t.EnqueuedAtNanos, &t.CostUSD, &t.RetryCount,
			&t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("runstore.LoadPhaseTasks: scan: %w", err)
		}
		t.Type = models.TaskType(typ)
		t.PriorityClass = models.PriorityClass(priority)
		t.Status = models.TaskStatus(status)
		t.RetryPolicy.MaxRetries = maxRetries
		if idempotenceKey != nil {
			t.IdempotenceKey = *idempotenceKey
		}
		if len(inputJSON) > 0 {
			if err := json.Unmarshal(inputJSON, &t.Input); err != nil {
				return nil, fmt.Errorf("runstore.LoadPhaseTasks: unmarshal input: %w", err)
			}
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

const runSelectColumns = `SELECT
	run_id, tenant_id, user_id, idea_spec_id, state, paused_from_state, pause_reason,
	max_retries, max_cost_usd, max_tokens, max_tool_minutes, max_wallclock_minutes,
	cumulative_cost_usd, cumulative_tokens, retry_count, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var state string
	var pausedFrom *string

	if err := row.Scan(
		&run.ID, &run.TenantID, &run.UserID, &run.IdeaSpecID, &state, &pausedFrom, &run.PauseReason,
		&run.Budget.MaxRetries, &run.Budget.MaxCostUSD, &run.Budget.MaxTokens, &run.Budget.MaxToolMinutes, &run.Budget.MaxWallclockMinutes,
		&run.CumulativeCostUSD, &run.CumulativeTokens, &run.RetryCount, &run.CreatedAt, &run.UpdatedAt, &run.CompletedAt,
	); err != nil {
		return nil, err
	}
	run.State = models.RunState(state)
	if pausedFrom != nil {
		run.PausedFromState = models.RunState(*pausedFrom)
	}
	return &run, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableRunState(s models.RunState) *string {
	return nullableString(string(s))
}

func nullableDuration(ms int64) *int64 {
	if ms == 0 {
		return nil
	}
	return &ms
}
