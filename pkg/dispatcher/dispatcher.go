// Package dispatcher implements the Task Dispatcher (spec §4.7): it
// invokes agents and tools against the (taskId, input, budget, context)
// contract, enforces each task's wallclock budget and cooperative
// cancellation, and caches idempotent computations so concurrent callers
// for the same key share one in-flight execution.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pipeforge/runcore/pkg/metrics"
	"github.com/pipeforge/runcore/pkg/models"
	"github.com/pipeforge/runcore/pkg/orcherr"
)

// Executor invokes one task against its target (an agent or a tool) and
// returns the external contract result. Implementations own the actual
// transport (in-process, gRPC, subprocess).
type Executor interface {
	Execute(ctx context.Context, task *models.TaskSpec) (*models.TaskResult, error)
}

// ArtifactCache is the content-addressed idempotence cache (spec §4.7
// "Caching"): keyed by hash(target, version, input, key).
type ArtifactCache interface {
	Get(ctx context.Context, key string) (*models.TaskResult, bool, error)
	Put(ctx context.Context, key string, result *models.TaskResult) error
}

// SchemaValidator validates a task's output against its target's declared
// schema. Repeated mismatches classify as schemaFailure (spec §4.7).
type SchemaValidator interface {
	Validate(target string, output map[string]any) error
}

// SEMTrigger is invoked when a task accumulates enough consecutive
// schema/tool failures to warrant Self-Execution Mode (spec §4.7, §4.8).
type SEMTrigger interface {
	TriggerSchemaOrToolFailure(ctx context.Context, task *models.TaskSpec, consecutiveFailures int) error
}

const maxConsecutiveFailuresBeforeSEM = 3

// Dispatcher is the Task Dispatcher.
type Dispatcher struct {
	executor  Executor
	cache     ArtifactCache
	validator SchemaValidator
	sem       SEMTrigger
	recorder  *metrics.Recorder

	group singleflight.Group

	mu               sync.Mutex
	failureStreaks   map[string]int // taskID -> consecutive schema/tool failures
}

// New creates a Dispatcher. validator, sem, and recorder may be nil.
func New(executor Executor, cache ArtifactCache, validator SchemaValidator, sem SEMTrigger, recorder *metrics.Recorder) *Dispatcher {
	return &Dispatcher{
		executor: executor, cache: cache, validator: validator, sem: sem, recorder: recorder,
		failureStreaks: make(map[string]int),
	}
}

// Dispatch invokes task, respecting its wallclock budget and the caller's
// cancellation signal, consulting the idempotence cache first when the
// task declares an IdempotenceKey.
func (d *Dispatcher) Dispatch(ctx context.Context, task *models.TaskSpec) (*models.TaskResult, error) {
	if task.Budget.WallclockMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(task.Budget.WallclockMS)*time.Millisecond)
		defer cancel()
	}

	if task.IdempotenceKey == "" {
		return d.execute(ctx, task)
	}

	cacheKey := contentKey(task)

	if d.cache != nil {
		if cached, ok, err := d.cache.Get(ctx, cacheKey); err == nil && ok {
			return cached, nil
		}
	}

	// At-most-one concurrent computation per key; concurrent callers block
	// on the in-flight computation (spec §4.7).
	v, err, _ := d.group.Do(cacheKey, func() (any, error) {
		result, err := d.execute(ctx, task)
		if err != nil {
			return nil, err
		}
		if d.cache != nil {
			_ = d.cache.Put(ctx, cacheKey, result)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.TaskResult), nil
}

func (d *Dispatcher) execute(ctx context.Context, task *models.TaskSpec) (*models.TaskResult, error) {
	start := time.Now()
	result, err := d.executor.Execute(ctx, task)

	if err != nil {
		if ctx.Err() != nil {
			return nil, &orcherr.TransientError{Op: "dispatcher.Dispatch", Err: fmt.Errorf("cancelled or timed out: %w", ctx.Err())}
		}
		d.recordFailure(ctx, task)
		return nil, &orcherr.TransientError{Op: "dispatcher.Dispatch", Err: err}
	}

	if !result.OK {
		d.recordFailure(ctx, task)
		if d.recorder != nil {
			d.recorder.RecordTaskCompleted(task.Phase, models.TaskStatusFailed, task.Type, time.Since(start))
		}
		return result, nil
	}

	if d.validator != nil {
		if err := d.validator.Validate(task.Target, result.Output); err != nil {
			d.recordFailure(ctx, task)
			return nil, &orcherr.SchemaError{Op: "dispatcher.Dispatch", Target: task.Target, Err: err}
		}
	}

	d.resetFailures(task.ID)
	if d.recorder != nil {
		d.recorder.RecordTaskCompleted(task.Phase, models.TaskStatusSucceeded, task.Type, time.Since(start))
	}
	return result, nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, task *models.TaskSpec) {
	d.mu.Lock()
	d.failureStreaks[task.ID]++
	streak := d.failureStreaks[task.ID]
	d.mu.Unlock()

	if streak >= maxConsecutiveFailuresBeforeSEM && d.sem != nil {
		_ = d.sem.TriggerSchemaOrToolFailure(ctx, task, streak)
	}
}

func (d *Dispatcher) resetFailures(taskID string) {
	d.mu.Lock()
	delete(d.failureStreaks, taskID)
	d.mu.Unlock()
}

// contentKey derives the idempotence cache key hash(target, version,
// input, key) (spec §4.7). TaskSpec carries no separate tool-version
// field upstream of dispatch, so target already identifies the
// provider.capability pair the cache is scoped to; input is folded in via
// its JSON encoding (encoding/json sorts map keys, so the same input
// value always serializes the same way regardless of map iteration
// order) so a retried task with a corrected input never collides with
// the stale result cached for its original input under the same
// idempotence key.
func contentKey(task *models.TaskSpec) string {
	inputJSON, err := json.Marshal(task.Input)
	if err != nil {
		inputJSON = []byte(fmt.Sprintf("%v", task.Input))
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(task.Target))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(inputJSON)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(task.IdempotenceKey))
	return fmt.Sprintf("%x", h.Sum64())
}
