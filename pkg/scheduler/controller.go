package scheduler

import (
	"context"
	"time"

	"github.com/pipeforge/runcore/pkg/models"
)

// Controller composes the ready Queue and Preemptor behind the narrow
// interface the Budget Guard and Quota Enforcer drive (budget.Scheduler).
type Controller struct {
	Queue     *Queue
	Preemptor *Preemptor
}

// NewController wires a Queue and Preemptor into one Controller.
func NewController(queue *Queue, preemptor *Preemptor) *Controller {
	return &Controller{Queue: queue, Preemptor: preemptor}
}

// PreferHigherPriority satisfies budget.Scheduler's throttle action.
func (c *Controller) PreferHigherPriority(runID string, delay time.Duration) {
	c.Queue.PreferHigherPriority(runID, delay)
}

// PreemptAllOfClass satisfies budget.Scheduler's pause/preempt actions.
func (c *Controller) PreemptAllOfClass(runID string, class models.PriorityClass) []string {
	preempted, err := c.Preemptor.PreemptForClass(context.Background(), runID, class, "budget", "cost", 0)
	if err != nil {
		return preempted
	}
	return preempted
}

// FreezeAdmissions satisfies budget.Scheduler's pause action.
func (c *Controller) FreezeAdmissions(runID string) {
	c.Queue.FreezeAdmissions(runID)
}
