package metrics

import (
	"time"

	"github.com/pipeforge/runcore/pkg/models"
)

// RecordRunStarted increments the started-runs counter and the active gauge.
func (r *Recorder) RecordRunStarted(tenantID string) {
	r.RunsStartedTotal.WithLabelValues(tenantID).Inc()
	r.RunsActive.Inc()
}

// RecordRunCompleted decrements the active gauge and records the terminal
// outcome and total duration.
func (r *Recorder) RecordRunCompleted(tenantID, outcome string, duration time.Duration) {
	r.RunsActive.Dec()
	r.RunsCompletedTotal.WithLabelValues(tenantID, outcome).Inc()
	r.RunDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPhaseExecution records a completed phase execution's terminal
// status, duration, and gate score.
func (r *Recorder) RecordPhaseExecution(phase string, status models.PhaseExecutionStatus, duration time.Duration, gateScore float64) {
	r.PhaseExecutionsTotal.WithLabelValues(phase, string(status)).Inc()
	r.PhaseDurationSeconds.WithLabelValues(phase).Observe(duration.Seconds())
	if gateScore > 0 {
		r.PhaseGateScore.WithLabelValues(phase).Observe(gateScore)
	}
}

// RecordTaskDispatched records a task leaving the scheduler's queue for
// execution.
func (r *Recorder) RecordTaskDispatched(phase string, priority models.PriorityClass, taskType models.TaskType) {
	r.TasksDispatchedTotal.WithLabelValues(phase, string(priority), string(taskType)).Inc()
}

// RecordTaskCompleted records a task reaching a terminal status.
func (r *Recorder) RecordTaskCompleted(phase string, status models.TaskStatus, taskType models.TaskType, duration time.Duration) {
	r.TasksCompletedTotal.WithLabelValues(phase, string(status)).Inc()
	r.TaskDurationSeconds.WithLabelValues(phase, string(taskType)).Observe(duration.Seconds())
}

// RecordTaskRetry records one retry attempt for a task in phase.
func (r *Recorder) RecordTaskRetry(phase string) {
	r.TaskRetriesTotal.WithLabelValues(phase).Inc()
}

// SetQueueDepth sets the current queue depth for a priority class.
func (r *Recorder) SetQueueDepth(priority models.PriorityClass, depth int) {
	r.TaskQueueDepth.WithLabelValues(string(priority)).Set(float64(depth))
}

// RecordPreemption records one task preemption.
func (r *Recorder) RecordPreemption(priority models.PriorityClass, reason string) {
	r.PreemptionsTotal.WithLabelValues(string(priority), reason).Inc()
}

// RecordGateDecision records a gatekeeper verdict and its contributing
// guard scores.
func (r *Recorder) RecordGateDecision(phase string, decision models.GateDecision, guardScores map[string]float64) {
	r.GateDecisionsTotal.WithLabelValues(phase, string(decision)).Inc()
	for guard, score := range guardScores {
		r.GuardScoreHistogram.WithLabelValues(guard).Observe(score)
	}
}

// RecordBudgetEvent records a budget threshold crossing and the resulting
// percent-used gauge for the run/resource pair.
func (r *Recorder) RecordBudgetEvent(runID, eventType, resource string, percentUsed float64) {
	r.BudgetEventsTotal.WithLabelValues(eventType).Inc()
	r.BudgetPercentUsed.WithLabelValues(runID, resource).Set(percentUsed)
}

// RecordCostAccrued adds costUSD to the tenant's cumulative cost counter.
func (r *Recorder) RecordCostAccrued(tenantID string, costUSD float64) {
	r.CostAccruedTotalUSD.WithLabelValues(tenantID).Add(costUSD)
}

// RecordQuotaViolation records one quota violation and the enforcement
// action taken.
func (r *Recorder) RecordQuotaViolation(tenantID string, resource models.ResourceType, action string) {
	r.QuotaViolationsTotal.WithLabelValues(tenantID, string(resource), action).Inc()
}

// SetTenantHealthScore sets the current health score gauge for a tenant.
func (r *Recorder) SetTenantHealthScore(tenantID string, score float64) {
	r.TenantHealthScore.WithLabelValues(tenantID).Set(score)
}

// RecordSEMIntervention records a completed Self-Execution Mode
// intervention's trigger, outcome status, and duration.
func (r *Recorder) RecordSEMIntervention(trigger models.SEMTrigger, status models.SEMStatus, duration time.Duration) {
	r.SEMInterventionsTotal.WithLabelValues(string(trigger), string(status)).Inc()
	r.SEMInterventionSeconds.WithLabelValues(string(trigger)).Observe(duration.Seconds())
}

// RecordLedgerAppend records one ledger entry append.
func (r *Recorder) RecordLedgerAppend(entryType models.LedgerEntryType) {
	r.LedgerEntriesAppendedTotal.WithLabelValues(string(entryType)).Inc()
}
