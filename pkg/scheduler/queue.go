// Package scheduler implements the Priority Scheduler & Preemption
// component (spec §4.4): a ready queue ordered by (priority weight DESC,
// enqueue time ASC), and preemption candidate selection when the Budget
// Guard or Quota Enforcer signal resource pressure.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pipeforge/runcore/pkg/models"
)

// readyItem is one task waiting in the heap.
type readyItem struct {
	task  *models.TaskSpec
	index int
}

// readyHeap orders by priority weight DESC, then enqueue time ASC —
// strictly-higher-priority tasks are always popped before lower ones,
// and within a class FIFO by enqueue time is preserved.
type readyHeap []*readyItem

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	wi, wj := h[i].task.PriorityClass.Weight(), h[j].task.PriorityClass.Weight()
	if wi != wj {
		return wi > wj
	}
	return h[i].task.EnqueuedAtNanos < h[j].task.EnqueuedAtNanos
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *readyHeap) Push(x any) {
	item := x.(*readyItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is the thread-safe ready queue for one run. Tasks enter when
// their dependencies succeed and quota/budget admit them, grouped by
// run so preemption and draining stay run-scoped.
type Queue struct {
	mu       sync.Mutex
	byRun    map[string]*readyHeap
	byTaskID map[string]*readyItem // taskID -> item, across all runs
	frozen   map[string]bool       // runID -> admissions frozen
}

// NewQueue creates an empty ready queue.
func NewQueue() *Queue {
	return &Queue{
		byRun:    make(map[string]*readyHeap),
		byTaskID: make(map[string]*readyItem),
		frozen:   make(map[string]bool),
	}
}

// Enqueue admits task into its run's ready queue. A frozen run (budget
// pause) rejects new admissions, returning false.
func (q *Queue) Enqueue(task *models.TaskSpec) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.frozen[task.RunID] {
		return false
	}

	h, ok := q.byRun[task.RunID]
	if !ok {
		h = &readyHeap{}
		heap.Init(h)
		q.byRun[task.RunID] = h
	}
	item := &readyItem{task: task}
	heap.Push(h, item)
	q.byTaskID[task.ID] = item
	return true
}

// Dequeue pops the highest-priority, oldest-enqueued ready task for runID.
// Returns nil if the run's queue is empty.
func (q *Queue) Dequeue(runID string) *models.TaskSpec {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.byRun[runID]
	if !ok || h.Len() == 0 {
		return nil
	}
	item := heap.Pop(h).(*readyItem)
	delete(q.byTaskID, item.task.ID)
	return item.task
}

// Depth returns the current ready-queue length for runID.
func (q *Queue) Depth(runID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h, ok := q.byRun[runID]; ok {
		return h.Len()
	}
	return 0
}

// DepthByClass returns the current ready-queue length for runID, broken
// out by priority class, for the queue-depth gauge.
func (q *Queue) DepthByClass(runID string) map[models.PriorityClass]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[models.PriorityClass]int)
	if h, ok := q.byRun[runID]; ok {
		for _, item := range *h {
			counts[item.task.PriorityClass]++
		}
	}
	return counts
}

// FreezeAdmissions stops new tasks from entering runID's ready queue
// (Budget Guard pause action, spec §4.6).
func (q *Queue) FreezeAdmissions(runID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frozen[runID] = true
}

// UnfreezeAdmissions resumes admissions for runID (on resume).
func (q *Queue) UnfreezeAdmissions(runID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.frozen, runID)
}

// IsFrozen reports whether runID currently rejects new admissions, for
// callers (the Admitter) that need to gate a single task without actually
// enqueuing it.
func (q *Queue) IsFrozen(runID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frozen[runID]
}

// PreferHigherPriority is a no-op placeholder for the throttle action
// (spec §4.6): the ready heap already always serves the highest-priority
// ready task first, so "preferring" higher priority under throttle
// requires no structural change — the Budget Guard's delay is applied by
// the dispatcher before it next calls Dequeue.
func (q *Queue) PreferHigherPriority(runID string, delay time.Duration) {}

// removeFromRun removes item from its run's heap, given its current
// index; must be called with q.mu held.
func (q *Queue) removeFromRun(runID string, item *readyItem) {
	h, ok := q.byRun[runID]
	if !ok || item.index < 0 || item.index >= h.Len() {
		return
	}
	heap.Remove(h, item.index)
	delete(q.byTaskID, item.task.ID)
}
