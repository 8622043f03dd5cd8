package scheduler

import (
	"context"
	"sync"

	"github.com/pipeforge/runcore/pkg/models"
)

// TaskTracker records which tasks are currently dispatching per run, the
// concrete RunningTasks the Preemptor needs to enumerate and cancel
// in-flight work — the same per-run mutex-guarded map shape Queue already
// uses for its ready-heap bookkeeping.
type TaskTracker struct {
	mu    sync.Mutex
	byRun map[string]map[string]*trackedTask
}

type trackedTask struct {
	task   *models.TaskSpec
	cancel context.CancelFunc
}

// NewTaskTracker creates an empty TaskTracker.
func NewTaskTracker() *TaskTracker {
	return &TaskTracker{byRun: make(map[string]map[string]*trackedTask)}
}

// Start registers task as in-flight and returns a context that Cancel
// will cancel.
func (t *TaskTracker) Start(ctx context.Context, task *models.TaskSpec) context.Context {
	taskCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byRun[task.RunID] == nil {
		t.byRun[task.RunID] = make(map[string]*trackedTask)
	}
	t.byRun[task.RunID][task.ID] = &trackedTask{task: task, cancel: cancel}
	return taskCtx
}

// Stop removes task from the in-flight set once it finishes dispatching.
func (t *TaskTracker) Stop(task *models.TaskSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.byRun[task.RunID]; ok {
		delete(m, task.ID)
		if len(m) == 0 {
			delete(t.byRun, task.RunID)
		}
	}
}

// Running implements scheduler.RunningTasks.
func (t *TaskTracker) Running(runID string) []*models.TaskSpec {
	t.mu.Lock()
	defer t.mu.Unlock()
	tasks := make([]*models.TaskSpec, 0, len(t.byRun[runID]))
	for _, tt := range t.byRun[runID] {
		tasks = append(tasks, tt.task)
	}
	return tasks
}

// Cancel implements scheduler.RunningTasks.
func (t *TaskTracker) Cancel(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.byRun {
		if tt, ok := m[taskID]; ok {
			tt.cancel()
			return
		}
	}
}

// Dispatcher is the narrow dispatch call TrackingDispatcher wraps.
// Satisfied by *pkg/dispatcher.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *models.TaskSpec) (*models.TaskResult, error)
}

// TrackingDispatcher decorates a Dispatcher so every in-flight task is
// visible to a TaskTracker, which is how the Preemptor's RunningTasks
// dependency sees and cancels the tasks the Phase Coordinator is
// currently running. It satisfies coordinator.TaskDispatcher directly, so
// it can be handed to coordinator.New in place of the bare Dispatcher.
type TrackingDispatcher struct {
	inner   Dispatcher
	tracker *TaskTracker
}

// NewTrackingDispatcher wraps inner, registering every dispatch with tracker.
func NewTrackingDispatcher(inner Dispatcher, tracker *TaskTracker) *TrackingDispatcher {
	return &TrackingDispatcher{inner: inner, tracker: tracker}
}

// Dispatch implements coordinator.TaskDispatcher.
func (d *TrackingDispatcher) Dispatch(ctx context.Context, task *models.TaskSpec) (*models.TaskResult, error) {
	taskCtx := d.tracker.Start(ctx, task)
	defer d.tracker.Stop(task)
	return d.inner.Dispatch(taskCtx, task)
}
