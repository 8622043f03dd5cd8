// Package workflow implements the Workflow Engine (spec §4.1, C10): the
// run state machine and the poll-claim-execute loop that drives a Run
// through its phases one at a time, pausing on budget or gate escalation
// and failing on exhausted retries or a fatal error.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pipeforge/runcore/pkg/budget"
	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/metrics"
	"github.com/pipeforge/runcore/pkg/models"
	"github.com/pipeforge/runcore/pkg/orcherr"
)

// ErrNoRunsAvailable is returned by RunStore.ClaimNextRun when no run is
// ready to be picked up.
var ErrNoRunsAvailable = errors.New("workflow: no runs available")

const defaultMaxPhaseAttempts = 3

// RunStore persists runs and phase executions, and claims the next
// runnable run under the store's own concurrency control (mirroring a
// `SELECT ... FOR UPDATE SKIP LOCKED` claim).
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ClaimNextRun(ctx context.Context) (*models.Run, error)
	SaveRun(ctx context.Context, run *models.Run) error
	SavePhaseExecution(ctx context.Context, exec models.PhaseExecution) error
	LoadPhaseTasks(ctx context.Context, runID string, phase string) ([]*models.TaskSpec, error)
}

// PhaseCoordinator runs one phase attempt. Satisfied by
// *pkg/coordinator.Coordinator.
type PhaseCoordinator interface {
	RunPhase(ctx context.Context, run *models.Run, manifest *config.PhaseManifestConfig, phase string, attempt int, tasks []*models.TaskSpec) (*models.EvidencePack, *models.GateResult, error)
}

// Notifier is told about pause/fail/escalate events so it can alert a
// human (spec §4.1 manual-intervention paths). Satisfied by pkg/notify.
type Notifier interface {
	NotifyRunPaused(ctx context.Context, run *models.Run, reason string)
	NotifyRunFailed(ctx context.Context, run *models.Run, reason string)
	NotifyGateEscalated(ctx context.Context, run *models.Run, phase string, result *models.GateResult)
}

// Engine polls for runnable runs and drives each one through its phases.
type Engine struct {
	id         string
	store      RunStore
	phases     *config.PhaseManifestRegistry
	coordinator PhaseCoordinator
	budgetGuard *budget.Guard
	notifier   Notifier
	recorder   *metrics.Recorder

	pollInterval time.Duration
	jitter       time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a workflow Engine. notifier, budgetGuard, and recorder may
// be nil.
func New(id string, store RunStore, phases *config.PhaseManifestRegistry, coordinator PhaseCoordinator, budgetGuard *budget.Guard, notifier Notifier, recorder *metrics.Recorder) *Engine {
	return &Engine{
		id: id, store: store, phases: phases, coordinator: coordinator,
		budgetGuard: budgetGuard, notifier: notifier, recorder: recorder,
		pollInterval: 2 * time.Second, jitter: 500 * time.Millisecond,
		stopCh: make(chan struct{}),
	}
}

// Start begins the poll loop in a goroutine.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)
}

// CreateRun persists a new run in models.RunStateCreated and returns
// once it has an ID. The poll loop picks it up on its own schedule; this
// method does not itself run any phase.
func (e *Engine) CreateRun(ctx context.Context, run *models.Run) error {
	return e.store.CreateRun(ctx, run)
}

// Execute drives run to completion or its next suspension point
// synchronously, bypassing the poll loop. Used by the admin CLI and by
// tests that want a deterministic single-call run.
func (e *Engine) Execute(ctx context.Context, runID string) (*models.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("workflow.Execute: %w", err)
	}
	if err := e.ProcessRun(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Resume transitions a paused run back to the phase it was paused from
// and persists the change. The run re-enters the poll loop's claim pool
// on the next cycle; Resume itself does not run any phase.
func (e *Engine) Resume(ctx context.Context, runID string) (*models.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("workflow.Resume: %w", err)
	}
	if err := Resume(run); err != nil {
		return nil, fmt.Errorf("workflow.Resume: %w", err)
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("workflow.Resume: %w", err)
	}
	return run, nil
}

// FailRun forces a run into models.RunStateFailed, e.g. for an operator
// giving up on a run stuck on manual intervention.
func (e *Engine) FailRun(ctx context.Context, runID, reason string) (*models.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("workflow.FailRun: %w", err)
	}
	if err := e.failRun(ctx, run, reason); err != nil {
		return nil, fmt.Errorf("workflow.FailRun: %w", err)
	}
	return run, nil
}

// Stop signals the engine to stop and waits for the current run to reach
// a suspension point.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	log := slog.With("engine_id", e.id)

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			if err := e.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoRunsAvailable) {
					e.sleep(e.jitteredInterval())
					continue
				}
				log.Error("error processing run", "error", err)
				e.sleep(time.Second)
			}
		}
	}
}

func (e *Engine) sleep(d time.Duration) {
	select {
	case <-e.stopCh:
	case <-time.After(d):
	}
}

func (e *Engine) jitteredInterval() time.Duration {
	if e.jitter <= 0 {
		return e.pollInterval
	}
	offset := time.Duration(rand.Int64N(int64(2 * e.jitter)))
	return e.pollInterval - e.jitter + offset
}

func (e *Engine) pollAndProcess(ctx context.Context) error {
	run, err := e.store.ClaimNextRun(ctx)
	if err != nil {
		return err
	}
	return e.ProcessRun(ctx, run)
}

// ProcessRun drives run forward through as many phases as it can without
// pausing or failing. CreateRun/Resume/FailRun are thin wrappers around
// the state machine plus a single ProcessRun call.
func (e *Engine) ProcessRun(ctx context.Context, run *models.Run) error {
	if run.State == models.RunStateCreated {
		if err := Transition(run, models.RunStateIntake); err != nil {
			return err
		}
		if err := e.store.SaveRun(ctx, run); err != nil {
			return err
		}
	}

	for {
		if run.State == models.RunStatePaused || run.State == models.RunStateFailed || run.State == models.RunStateCancelled {
			return nil
		}
		if run.State == models.RunStateGA {
			run.CompletedAt = timePtr(time.Now())
			return e.store.SaveRun(ctx, run)
		}

		if e.budgetGuard != nil && e.budgetGuard.ShouldPause(budget.Totals{
			RunID: run.ID, TenantID: run.TenantID, Total: run.Budget.MaxCostUSD, Spent: run.CumulativeCostUSD, Resource: "cost",
		}) {
			return e.pauseRun(ctx, run, "budget threshold exceeded")
		}

		advanced, err := e.runOnePhase(ctx, run)
		if err != nil {
			return e.failRun(ctx, run, err.Error())
		}
		if !advanced {
			// Paused or escalated mid-phase; runOnePhase already persisted.
			return nil
		}
	}
}

// runOnePhase runs the current phase to a decision and, on pass, advances
// run.State to the next phase. Returns advanced=false when the run was
// paused or escalated (terminal for this poll cycle, not for the run).
func (e *Engine) runOnePhase(ctx context.Context, run *models.Run) (advanced bool, err error) {
	phaseName := string(run.State)
	manifest, getErr := e.phases.Get(phaseName)
	if getErr != nil {
		return false, fmt.Errorf("workflow: no manifest for phase %s: %w", phaseName, getErr)
	}

	tasks, loadErr := e.store.LoadPhaseTasks(ctx, run.ID, phaseName)
	if loadErr != nil {
		return false, fmt.Errorf("workflow: load tasks for phase %s: %w", phaseName, loadErr)
	}

	maxAttempts := run.Budget.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxPhaseAttempts
	}

	var lastResult *models.GateResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pack, result, runErr := e.coordinator.RunPhase(ctx, run, manifest, phaseName, attempt, tasks)
		if runErr != nil {
			if errors.Is(runErr, orcherr.ErrMissingInput) || errors.Is(runErr, orcherr.ErrCycleDetected) {
				return false, runErr
			}
			if attempt == maxAttempts {
				return false, runErr
			}
			continue
		}

		exec := models.PhaseExecution{
			RunID: run.ID, PhaseName: phaseName, Attempt: attempt,
			ParallelismMode: models.ParallelismMode(manifest.Parallelism),
			CostUSD:         pack.Metrics.CostUSD, Tokens: pack.Metrics.Tokens,
			ToolMinutes: pack.Metrics.ToolMinutes, DurationMS: pack.Metrics.DurationMS,
			ArtifactIDs: pack.ArtifactIDs, StartedAt: pack.AssembledAt,
		}

		if result == nil {
			exec.Status = models.PhaseStatusCompleted
			_ = e.store.SavePhaseExecution(ctx, exec)
			return e.advancePhase(ctx, run)
		}

		lastResult = result
		exec.GateScore = &result.OverallScore

		switch result.Decision {
		case models.GateDecisionPass:
			exec.Status = models.PhaseStatusCompleted
			run.CumulativeCostUSD += pack.Metrics.CostUSD
			run.CumulativeTokens += pack.Metrics.Tokens
			if saveErr := e.store.SavePhaseExecution(ctx, exec); saveErr != nil {
				return false, saveErr
			}
			if e.budgetGuard != nil {
				if _, evalErr := e.budgetGuard.Evaluate(ctx, budget.Totals{
					RunID: run.ID, TenantID: run.TenantID,
					Total: run.Budget.MaxCostUSD, Spent: run.CumulativeCostUSD, Resource: "cost",
				}); evalErr != nil {
					slog.Error("budget guard evaluate failed", "run_id", run.ID, "error", evalErr)
				}
			}
			return e.advancePhase(ctx, run)

		case models.GateDecisionEscalate:
			exec.Status = models.PhaseStatusAwaitingGate
			_ = e.store.SavePhaseExecution(ctx, exec)
			if e.notifier != nil {
				e.notifier.NotifyGateEscalated(ctx, run, phaseName, result)
			}
			return false, e.pauseRun(ctx, run, fmt.Sprintf("gate escalated for phase %s", phaseName))

		case models.GateDecisionFail:
			exec.Status = models.PhaseStatusFailed
			_ = e.store.SavePhaseExecution(ctx, exec)
			if attempt == maxAttempts {
				return false, fmt.Errorf("phase %s failed after %d attempts: %v (auto-fix: %s)", phaseName, maxAttempts, result.Reasons, result.AutoFixStrategy)
			}

			wait := phaseRetryBackoff(run.RetryCount)
			run.RetryCount++
			if saveErr := e.store.SaveRun(ctx, run); saveErr != nil {
				return false, saveErr
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return false, ctx.Err()
			}
			// Loop again: a fresh attempt re-runs the phase's tasks, the
			// concrete effect of the Gatekeeper's auto-fix strategy for the
			// strategies this repo can re-drive automatically (rerun-qav,
			// rerun-security, stricter-validation). Strategies that need a
			// different task set (add-missing-agents, reduce-scope) or a
			// human (manual-intervention) are applied upstream of this loop
			// by whoever re-submits the phase's task list.
		}
	}

	if lastResult != nil {
		return false, fmt.Errorf("phase %s exhausted attempts with decision %s", phaseName, lastResult.Decision)
	}
	return false, fmt.Errorf("phase %s exhausted attempts", phaseName)
}

func (e *Engine) advancePhase(ctx context.Context, run *models.Run) (bool, error) {
	next, ok := nextPhase(run.State)
	if !ok {
		if err := Transition(run, models.RunStateGA); err != nil {
			return false, err
		}
	} else if err := Transition(run, next); err != nil {
		return false, err
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) pauseRun(ctx context.Context, run *models.Run, reason string) error {
	run.PauseReason = reason
	if err := Transition(run, models.RunStatePaused); err != nil {
		return err
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return err
	}
	if e.notifier != nil {
		e.notifier.NotifyRunPaused(ctx, run, reason)
	}
	return nil
}

func (e *Engine) failRun(ctx context.Context, run *models.Run, reason string) error {
	run.PauseReason = reason
	if err := Transition(run, models.RunStateFailed); err != nil {
		return err
	}
	if saveErr := e.store.SaveRun(ctx, run); saveErr != nil {
		return saveErr
	}
	if e.notifier != nil {
		e.notifier.NotifyRunFailed(ctx, run, reason)
	}
	return nil
}

// phaseRetryBackoff is the phase-level retry wait between a failed gate
// decision and the next attempt: min(1000*2^retryCount, 30000) ms.
func phaseRetryBackoff(retryCount int) time.Duration {
	ms := 1000 * math.Pow(2, float64(retryCount))
	if ms > 30000 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

func timePtr(t time.Time) *time.Time { return &t }
