package coordinator

import (
	"fmt"

	"github.com/pipeforge/runcore/pkg/models"
	"github.com/pipeforge/runcore/pkg/orcherr"
)

// readySets topologically sorts tasks by their Dependencies field into
// ordered batches: every task in batch N depends only on tasks in batches
// 0..N-1, and tasks in the same batch have no dependency relationship
// (spec §4.2 algorithm step 2). A dependency naming a task ID absent from
// tasks fails fast with orcherr.ErrMissingInput. A cycle fails with
// orcherr.ErrCycleDetected.
func readySets(tasks []*models.TaskSpec) ([][]*models.TaskSpec, error) {
	byID := make(map[string]*models.TaskSpec, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, t := range tasks {
		inDegree[t.ID] = len(t.Dependencies)
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: task %s depends on unknown task %s", orcherr.ErrMissingInput, t.ID, dep)
			}
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var batches [][]*models.TaskSpec
	remaining := len(tasks)
	ready := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	for len(ready) > 0 {
		batch := make([]*models.TaskSpec, 0, len(ready))
		var next []string
		for _, id := range ready {
			batch = append(batch, byID[id])
			remaining--
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		batches = append(batches, batch)
		ready = next
	}

	if remaining > 0 {
		return nil, fmt.Errorf("%w", orcherr.ErrCycleDetected)
	}

	return batches, nil
}
