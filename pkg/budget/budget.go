// Package budget implements the Budget Guard (spec §4.6): per-run
// enforcement of total cost/tokens/time against the four trip points
// warn/throttle/pause/preempt.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/metrics"
	"github.com/pipeforge/runcore/pkg/models"
)

// EventRecorder persists a BudgetEvent row. Implemented by the caller's
// storage layer.
type EventRecorder interface {
	RecordBudgetEvent(ctx context.Context, event models.BudgetEvent) error
}

// Scheduler is the subset of the priority scheduler the Budget Guard
// drives on throttle/pause/preempt.
type Scheduler interface {
	PreferHigherPriority(runID string, delay time.Duration)
	PreemptAllOfClass(runID string, class models.PriorityClass) []string
	FreezeAdmissions(runID string)
}

// Totals is the current cost/token/time position for one run.
type Totals struct {
	RunID     string
	TenantID  string
	Total     float64 // the run's declared ceiling for this resource
	Spent     float64
	Resource  string // "cost" | "tokens" | "wallclock"
}

// PercentUsed returns spent/total, or 0 if total is non-positive.
func (t Totals) PercentUsed() float64 {
	if t.Total <= 0 {
		return 0
	}
	return t.Spent / t.Total
}

// Guard evaluates a run's spend against its declared budget and drives
// the scheduler and event log when a threshold trips.
type Guard struct {
	thresholds *config.BudgetThresholds
	events     EventRecorder
	scheduler  Scheduler
	recorder   *metrics.Recorder

	throttleDelay time.Duration
}

// New creates a Guard using thresholds (nil falls back to
// config.BudgetThresholdsDefault()).
func New(thresholds *config.BudgetThresholds, events EventRecorder, scheduler Scheduler, recorder *metrics.Recorder) *Guard {
	if thresholds == nil {
		thresholds = config.BudgetThresholdsDefault()
	}
	return &Guard{thresholds: thresholds, events: events, scheduler: scheduler, recorder: recorder, throttleDelay: 2 * time.Second}
}

// Evaluate checks t against the guard's thresholds, takes the
// corresponding scheduler action, persists a BudgetEvent, and returns the
// event type that fired (empty if none did). Only the highest threshold
// crossed fires — pause implies warn and throttle already happened on
// earlier evaluations, so this call only acts on the threshold newly
// crossed by t.Spent.
func (g *Guard) Evaluate(ctx context.Context, t Totals) (models.BudgetEventType, error) {
	pct := t.PercentUsed()

	var (
		eventType     models.BudgetEventType
		action        string
		tasksAffected []string
		preempted     []models.PriorityClass
	)

	switch {
	case pct >= g.thresholds.Preempt:
		eventType, action = models.BudgetEventPreempt, "preempt_candidates_handed_to_scheduler"
		if g.scheduler != nil {
			tasksAffected = g.scheduler.PreemptAllOfClass(t.RunID, models.PriorityP3)
			preempted = append(preempted, models.PriorityP3)
		}
	case pct >= g.thresholds.Pause:
		eventType, action = models.BudgetEventPause, "preempt_p3_freeze_admissions"
		if g.scheduler != nil {
			tasksAffected = g.scheduler.PreemptAllOfClass(t.RunID, models.PriorityP3)
			g.scheduler.FreezeAdmissions(t.RunID)
			preempted = append(preempted, models.PriorityP3)
		}
	case pct >= g.thresholds.Throttle:
		eventType, action = models.BudgetEventThrottle, "prefer_higher_priority_apply_delay"
		if g.scheduler != nil {
			g.scheduler.PreferHigherPriority(t.RunID, g.throttleDelay)
		}
	case pct >= g.thresholds.Warn:
		eventType, action = models.BudgetEventWarn, "record_event_only"
	default:
		return "", nil
	}

	event := models.BudgetEvent{
		ID: ulid.Make().String(), RunID: t.RunID, TenantID: t.TenantID,
		Total: t.Total, Spent: t.Spent, Remaining: t.Total - t.Spent, PercentUsed: pct,
		EventType: eventType, Threshold: g.thresholdFor(eventType), Action: action,
		TasksAffected: tasksAffected, PriorityClassesPreempted: preempted,
		CreatedAt: time.Now().UTC(),
	}

	if g.events != nil {
		if err := g.events.RecordBudgetEvent(ctx, event); err != nil {
			return eventType, fmt.Errorf("budget.Evaluate: record event: %w", err)
		}
	}
	if g.recorder != nil {
		g.recorder.RecordBudgetEvent(t.RunID, string(eventType), t.Resource, pct)
	}

	return eventType, nil
}

func (g *Guard) thresholdFor(eventType models.BudgetEventType) float64 {
	switch eventType {
	case models.BudgetEventWarn:
		return g.thresholds.Warn
	case models.BudgetEventThrottle:
		return g.thresholds.Throttle
	case models.BudgetEventPause:
		return g.thresholds.Pause
	case models.BudgetEventPreempt:
		return g.thresholds.Preempt
	default:
		return 0
	}
}

// ShouldPause reports whether t has crossed the pause threshold, for
// callers (the workflow engine) that need a direct check without driving
// the scheduler.
func (g *Guard) ShouldPause(t Totals) bool {
	return t.PercentUsed() >= g.thresholds.Pause
}
