package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/models"
)

type fakeEvents struct {
	events []models.BudgetEvent
}

func (f *fakeEvents) RecordBudgetEvent(ctx context.Context, e models.BudgetEvent) error {
	f.events = append(f.events, e)
	return nil
}

type fakeScheduler struct {
	preferredDelay   bool
	preemptedClasses []models.PriorityClass
	frozen           bool
}

func (f *fakeScheduler) PreferHigherPriority(runID string, delay time.Duration) { f.preferredDelay = true }
func (f *fakeScheduler) PreemptAllOfClass(runID string, class models.PriorityClass) []string {
	f.preemptedClasses = append(f.preemptedClasses, class)
	return []string{"task-1", "task-2"}
}
func (f *fakeScheduler) FreezeAdmissions(runID string) { f.frozen = true }

func TestGuard_BelowWarnThresholdFiresNothing(t *testing.T) {
	events := &fakeEvents{}
	g := New(config.BudgetThresholdsDefault(), events, &fakeScheduler{}, nil)

	eventType, err := g.Evaluate(context.Background(), Totals{RunID: "run-1", Total: 100, Spent: 10, Resource: "cost"})
	require.NoError(t, err)
	assert.Equal(t, models.BudgetEventType(""), eventType)
	assert.Empty(t, events.events)
}

func TestGuard_WarnThresholdRecordsEventOnly(t *testing.T) {
	events := &fakeEvents{}
	sched := &fakeScheduler{}
	g := New(config.BudgetThresholdsDefault(), events, sched, nil)

	eventType, err := g.Evaluate(context.Background(), Totals{RunID: "run-1", Total: 100, Spent: 55, Resource: "cost"})
	require.NoError(t, err)
	assert.Equal(t, models.BudgetEventWarn, eventType)
	require.Len(t, events.events, 1)
	assert.False(t, sched.preferredDelay)
	assert.Empty(t, sched.preemptedClasses)
}

func TestGuard_ThrottleThresholdTellsSchedulerToPreferHigherPriority(t *testing.T) {
	events := &fakeEvents{}
	sched := &fakeScheduler{}
	g := New(config.BudgetThresholdsDefault(), events, sched, nil)

	eventType, err := g.Evaluate(context.Background(), Totals{RunID: "run-1", Total: 100, Spent: 82, Resource: "cost"})
	require.NoError(t, err)
	assert.Equal(t, models.BudgetEventThrottle, eventType)
	assert.True(t, sched.preferredDelay)
}

func TestGuard_PauseThresholdPreemptsP3AndFreezesAdmissions(t *testing.T) {
	events := &fakeEvents{}
	sched := &fakeScheduler{}
	g := New(config.BudgetThresholdsDefault(), events, sched, nil)

	eventType, err := g.Evaluate(context.Background(), Totals{RunID: "run-1", Total: 100, Spent: 96, Resource: "cost"})
	require.NoError(t, err)
	assert.Equal(t, models.BudgetEventPause, eventType)
	assert.True(t, sched.frozen)
	assert.Equal(t, []models.PriorityClass{models.PriorityP3}, sched.preemptedClasses)
	assert.True(t, g.ShouldPause(Totals{Total: 100, Spent: 96}))
}

func TestGuard_PreemptThresholdHandsCandidatesToScheduler(t *testing.T) {
	events := &fakeEvents{}
	sched := &fakeScheduler{}
	g := New(config.BudgetThresholdsDefault(), events, sched, nil)

	eventType, err := g.Evaluate(context.Background(), Totals{RunID: "run-1", Total: 100, Spent: 100, Resource: "cost"})
	require.NoError(t, err)
	assert.Equal(t, models.BudgetEventPreempt, eventType)
	require.Len(t, events.events, 1)
	assert.Equal(t, []string{"task-1", "task-2"}, events.events[0].TasksAffected)
}
