// Package coordinator implements the Phase Coordinator (spec §4.2): it
// turns one phase's declared tasks into dependency-ordered ready-sets,
// dispatches each ready-set according to the phase's parallelism mode,
// escalates exhausted doer-replaceable failures to Self-Execution Mode,
// assembles the resulting EvidencePack, and submits it to the Gatekeeper.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/metrics"
	"github.com/pipeforge/runcore/pkg/models"
	"github.com/pipeforge/runcore/pkg/orcherr"
)

// defaultPartialSuccessFraction is the default partial-success threshold
// for "parallel" mode: at least 75% of a ready-set's tasks must succeed,
// but never fewer than n-1.
const defaultPartialSuccessFraction = 0.75

// Admitter gates a task through the Priority Scheduler, Quota Enforcer,
// and Budget Guard before it may be dispatched (spec §4.2 step 3).
type Admitter interface {
	Admit(ctx context.Context, task *models.TaskSpec) (bool, error)
}

// TaskDispatcher invokes an admitted task. Satisfied by
// *pkg/dispatcher.Dispatcher.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task *models.TaskSpec) (*models.TaskResult, error)
}

// SEMEscalator hands a blocked, doer-replaceable task to Self-Execution
// Mode and returns the artifacts it produced, or an error if SEM itself
// could not unblock the step.
type SEMEscalator interface {
	Escalate(ctx context.Context, blocked models.BlockedStepContext, originalDoer string) (*models.TaskResult, error)
}

// GuardRunner executes the phase's configured guards against an assembled
// EvidencePack. Satisfied by *pkg/gatekeeper.Runner.
type GuardRunner interface {
	Run(ctx context.Context, pack *models.EvidencePack) ([]models.GuardReport, error)
}

// GateEvaluator scores an EvidencePack and returns pass/fail/escalate.
// Satisfied by *pkg/gatekeeper.Gatekeeper.
type GateEvaluator interface {
	Evaluate(ctx context.Context, pack *models.EvidencePack) (*models.GateResult, error)
}

// Coordinator drives one phase of one run.
type Coordinator struct {
	admitter     Admitter
	dispatcher   TaskDispatcher
	semEscalator SEMEscalator
	guardRunner  GuardRunner
	gate         GateEvaluator
	recorder     *metrics.Recorder
}

// New creates a Coordinator. semEscalator, guardRunner, and recorder may
// be nil.
func New(admitter Admitter, dispatcher TaskDispatcher, semEscalator SEMEscalator, guardRunner GuardRunner, gate GateEvaluator, recorder *metrics.Recorder) *Coordinator {
	return &Coordinator{
		admitter: admitter, dispatcher: dispatcher, semEscalator: semEscalator,
		guardRunner: guardRunner, gate: gate, recorder: recorder,
	}
}

// taskOutcome pairs a task with its dispatch result.
type taskOutcome struct {
	task   *models.TaskSpec
	result *models.TaskResult
	err    error
}

// RunPhase executes every task declared for one phase attempt and returns
// the resulting EvidencePack plus the Gatekeeper's verdict.
func (c *Coordinator) RunPhase(ctx context.Context, run *models.Run, manifest *config.PhaseManifestConfig, phase string, attempt int, tasks []*models.TaskSpec) (*models.EvidencePack, *models.GateResult, error) {
	batches, err := readySets(tasks)
	if err != nil {
		return nil, nil, err
	}

	mode := models.ParallelismMode(manifest.Parallelism)
	if mode == "" {
		mode = models.ParallelismSequential
	}

	var outcomes []taskOutcome
	for _, batch := range batches {
		batchOutcomes, err := c.runBatch(ctx, run, phase, mode, manifest, batch)
		if err != nil {
			return nil, nil, err
		}
		outcomes = append(outcomes, batchOutcomes...)

		if mode != models.ParallelismParallel && mode != models.ParallelismPartial {
			if failed := firstHardFailure(batchOutcomes); failed != nil {
				return c.finalize(ctx, run, phase, attempt, outcomes)
			}
		}
	}

	return c.finalize(ctx, run, phase, attempt, outcomes)
}

// runBatch dispatches one dependency-ready batch of tasks per mode:
// sequential/iterative run one task at a time; parallel/partial run the
// whole batch concurrently, bounded by manifest.MaxConcurrentTasks.
func (c *Coordinator) runBatch(ctx context.Context, run *models.Run, phase string, mode models.ParallelismMode, manifest *config.PhaseManifestConfig, batch []*models.TaskSpec) ([]taskOutcome, error) {
	switch mode {
	case models.ParallelismParallel, models.ParallelismPartial:
		return c.runBatchConcurrently(ctx, run, phase, manifest, batch)
	default:
		outcomes := make([]taskOutcome, 0, len(batch))
		for _, t := range batch {
			result, err := c.runTask(ctx, run, phase, t)
			outcomes = append(outcomes, taskOutcome{task: t, result: result, err: err})
		}
		return outcomes, nil
	}
}

// runBatchConcurrently dispatches an entire ready-set at once, bounded by
// MaxConcurrentTasks, delivering results over a buffered channel — the
// concurrency-limited goroutine-per-task shape the Phase Coordinator uses
// in place of one-sub-agent-per-goroutine fan-out.
func (c *Coordinator) runBatchConcurrently(ctx context.Context, run *models.Run, phase string, manifest *config.PhaseManifestConfig, batch []*models.TaskSpec) ([]taskOutcome, error) {
	limit := len(batch)
	if manifest.MaxConcurrentTasks != nil && *manifest.MaxConcurrentTasks < limit {
		limit = *manifest.MaxConcurrentTasks
	}
	if limit <= 0 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	results := make(chan taskOutcome, len(batch))
	var wg sync.WaitGroup

	for _, t := range batch {
		wg.Add(1)
		go func(t *models.TaskSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := c.runTask(ctx, run, phase, t)
			results <- taskOutcome{task: t, result: result, err: err}
		}(t)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]taskOutcome, 0, len(batch))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// runTask admits and dispatches one task, retrying transient failures per
// its retry policy, and escalating to SEM once retries are exhausted for
// a doer-replaceable task (spec §4.2 step 4).
func (c *Coordinator) runTask(ctx context.Context, run *models.Run, phase string, task *models.TaskSpec) (*models.TaskResult, error) {
	if c.recorder != nil {
		c.recorder.RecordTaskDispatched(phase, task.PriorityClass, task.Type)
	}

	var lastErr error
	for attempt := 0; attempt <= task.RetryPolicy.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := task.RetryPolicy.BaseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			if task.RetryPolicy.MaxBackoff > 0 && backoff > task.RetryPolicy.MaxBackoff {
				backoff = task.RetryPolicy.MaxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			task.RetryCount++
			if c.recorder != nil {
				c.recorder.RecordTaskRetry(phase)
			}
		}

		if c.admitter != nil {
			admitted, err := c.admitter.Admit(ctx, task)
			if err != nil {
				lastErr = err
				continue
			}
			if !admitted {
				lastErr = fmt.Errorf("coordinator: task %s not admitted", task.ID)
				continue
			}
		}

		result, err := c.dispatcher.Dispatch(ctx, task)
		if err == nil {
			task.Status = models.TaskStatusSucceeded
			return result, nil
		}

		lastErr = err
		if !orcherr.Retryable(err) {
			break
		}
	}

	task.Status = models.TaskStatusFailed
	task.ErrorMessage = lastErr.Error()

	if task.RetryPolicy.DoerReplaceable && c.semEscalator != nil {
		blocked := models.BlockedStepContext{
			RunID:          task.RunID,
			Phase:          phase,
			TaskID:         task.ID,
			Trigger:        models.SEMTriggerToolFailure,
			TriggerDetails: lastErr.Error(),
			Inputs:         task.Input,
			RemainingBudget: models.TaskBudget{
				USD:         task.Budget.USD - task.CostUSD,
				Tokens:      task.Budget.Tokens,
				ToolMinutes: task.Budget.ToolMinutes,
				WallclockMS: task.Budget.WallclockMS,
			},
		}
		result, err := c.semEscalator.Escalate(ctx, blocked, task.Target)
		if err == nil {
			task.Status = models.TaskStatusSucceeded
			return result, nil
		}
		return nil, fmt.Errorf("coordinator: sem escalation for task %s: %w", task.ID, err)
	}

	return nil, lastErr
}

// finalize checks the partial-success threshold (parallel/partial modes
// tolerate some failures; sequential/iterative require all to succeed),
// assembles the EvidencePack, runs configured guards, and submits it to
// the Gatekeeper.
func (c *Coordinator) finalize(ctx context.Context, run *models.Run, phase string, attempt int, outcomes []taskOutcome) (*models.EvidencePack, *models.GateResult, error) {
	if err := checkSuccessThreshold(outcomes); err != nil {
		return nil, nil, err
	}

	pack := assembleEvidencePack(run, phase, attempt, outcomes)

	if c.guardRunner != nil {
		reports, err := c.guardRunner.Run(ctx, pack)
		if err != nil {
			return pack, nil, fmt.Errorf("coordinator: guard run: %w", err)
		}
		pack.GuardReports = append(pack.GuardReports, reports...)
	}

	if c.gate == nil {
		return pack, nil, nil
	}

	result, err := c.gate.Evaluate(ctx, pack)
	if err != nil {
		return pack, nil, fmt.Errorf("coordinator: gate evaluation: %w", err)
	}
	return pack, result, nil
}

// checkSuccessThreshold enforces spec §4.2 step 5: all must-have tasks
// must succeed, except in a batch where at least one task ran under
// partial-success semantics, which tolerates failures up to the
// configured threshold (default >=75%, never fewer than n-1 successes).
func checkSuccessThreshold(outcomes []taskOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	succeeded := 0
	for _, o := range outcomes {
		if o.err == nil {
			succeeded++
		}
	}
	if succeeded == len(outcomes) {
		return nil
	}

	n := len(outcomes)
	required := int(math.Ceil(defaultPartialSuccessFraction * float64(n)))
	if required < n-1 {
		required = n - 1
	}
	if succeeded >= required {
		return nil
	}

	return fmt.Errorf("coordinator: only %d/%d tasks succeeded, below required %d", succeeded, n, required)
}

func firstHardFailure(outcomes []taskOutcome) *taskOutcome {
	for i := range outcomes {
		if outcomes[i].err != nil {
			return &outcomes[i]
		}
	}
	return nil
}

// assembleEvidencePack collects artifacts, costs, and usage from every
// task outcome into the EvidencePack the Gatekeeper will score (spec
// §4.2 step 5).
func assembleEvidencePack(run *models.Run, phase string, attempt int, outcomes []taskOutcome) *models.EvidencePack {
	pack := &models.EvidencePack{
		RunID:       run.ID,
		Phase:       phase,
		Attempt:     attempt,
		AssembledAt: time.Now(),
	}

	for _, o := range outcomes {
		if o.result == nil {
			continue
		}
		for _, a := range o.result.Artifacts {
			pack.ArtifactIDs = append(pack.ArtifactIDs, a.ID)
		}
		pack.Metrics.DurationMS += o.result.Metrics.DurationMS
		pack.Metrics.Tokens += o.result.Metrics.Tokens
		pack.Metrics.ToolMinutes += o.result.Metrics.ToolMinutes
		pack.Metrics.CostUSD += o.result.Metrics.CostUSD
	}

	return pack
}
