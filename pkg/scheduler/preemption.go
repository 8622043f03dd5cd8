package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pipeforge/runcore/pkg/models"
)

// HistoryRecorder persists a PreemptionRecord row (preemption_history
// table, migration 000007).
type HistoryRecorder interface {
	RecordPreemption(ctx context.Context, record models.PreemptionRecord) error
}

// RunningTasks supplies the currently-running tasks for a run, so
// preemption candidates can be drawn from both the ready queue and
// in-flight work.
type RunningTasks interface {
	Running(runID string) []*models.TaskSpec
	Cancel(taskID string)
}

// Preemptor selects and executes preemptions against the ready queue and
// in-flight running tasks (spec §4.4).
type Preemptor struct {
	queue    *Queue
	running  RunningTasks
	history  HistoryRecorder
}

// NewPreemptor creates a Preemptor over queue and running, persisting
// preemption history through history.
func NewPreemptor(queue *Queue, running RunningTasks, history HistoryRecorder) *Preemptor {
	return &Preemptor{queue: queue, running: running, history: history}
}

// candidates returns P3-before-P2, newest-first preemption candidates
// drawn from both the ready queue and in-flight running tasks for runID,
// excluding tasks already preempted.
func (p *Preemptor) candidates(runID string) []*models.TaskSpec {
	var pool []*models.TaskSpec

	p.queue.mu.Lock()
	if h, ok := p.queue.byRun[runID]; ok {
		for _, item := range *h {
			pool = append(pool, item.task)
		}
	}
	p.queue.mu.Unlock()

	if p.running != nil {
		pool = append(pool, p.running.Running(runID)...)
	}

	var eligible []*models.TaskSpec
	for _, t := range pool {
		if t.Preempted {
			continue
		}
		if t.PriorityClass == models.PriorityP2 || t.PriorityClass == models.PriorityP3 {
			eligible = append(eligible, t)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.PriorityClass != b.PriorityClass {
			return a.PriorityClass == models.PriorityP3 // P3 before P2
		}
		return a.EnqueuedAtNanos > b.EnqueuedAtNanos // newest first
	})

	return eligible
}

// PreemptForClass preempts every eligible task of exactly priorityClass
// for runID, returning the preempted task IDs. Used by the Budget Guard's
// pause/preempt actions, which target P3 specifically.
func (p *Preemptor) PreemptForClass(ctx context.Context, runID string, priorityClass models.PriorityClass, reason, resourceType string, threshold float64) ([]string, error) {
	var preempted []string
	for _, t := range p.candidates(runID) {
		if t.PriorityClass != priorityClass {
			continue
		}
		if err := p.preemptOne(ctx, t, reason, resourceType, threshold); err != nil {
			return preempted, err
		}
		preempted = append(preempted, t.ID)
	}
	return preempted, nil
}

// PreemptUntilFreed preempts candidates in P3-then-P2, newest-first order
// until count tasks have been preempted or candidates are exhausted.
// Used for general resource-pressure preemption (CPU/memory/cost).
func (p *Preemptor) PreemptUntilFreed(ctx context.Context, runID string, count int, reason, resourceType string, threshold float64) ([]string, error) {
	var preempted []string
	for _, t := range p.candidates(runID) {
		if len(preempted) >= count {
			break
		}
		if err := p.preemptOne(ctx, t, reason, resourceType, threshold); err != nil {
			return preempted, err
		}
		preempted = append(preempted, t.ID)
	}
	return preempted, nil
}

func (p *Preemptor) preemptOne(ctx context.Context, t *models.TaskSpec, reason, resourceType string, threshold float64) error {
	t.Preempted = true
	t.PreemptionCount++
	t.Status = models.TaskStatusPreempted

	if p.running != nil {
		p.running.Cancel(t.ID)
	}

	// Resumable: re-enter the ready queue ahead of fresh same-class
	// arrivals by keeping its original enqueue time.
	p.queue.Enqueue(t)

	if p.history != nil {
		record := models.PreemptionRecord{
			ID: ulid.Make().String(), RunID: t.RunID, TaskID: t.ID,
			Reason: reason, ResourceType: resourceType, Threshold: threshold,
			PriorityClass: t.PriorityClass, CreatedAt: time.Now().UTC(),
		}
		if err := p.history.RecordPreemption(ctx, record); err != nil {
			return fmt.Errorf("scheduler.preemptOne: record history: %w", err)
		}
	}
	return nil
}
