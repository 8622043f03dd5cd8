package config

import "time"

// SchedulerConfig contains priority-queue and dispatcher worker-pool tuning
// (spec §4.4, §4.3). These values control how many tasks run concurrently
// within a run and how aggressively preemption reclaims capacity.
type SchedulerConfig struct {
	// WorkerCount is the number of dispatcher worker goroutines per run.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentTasks is the global in-flight task ceiling across a run,
	// independent of per-phase MaxConcurrentTasks overrides.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// PollInterval is how often the scheduler re-checks the priority queue
	// when no capacity is currently free.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PreemptionGraceWindow is how long a preempted task's goroutine has to
	// checkpoint before the dispatcher force-cancels its context.
	PreemptionGraceWindow time.Duration `yaml:"preemption_grace_window"`

	// IdempotenceCacheTTL bounds how long a completed task's result is kept
	// for duplicate-dispatch dedup (spec §4.3 edge cases).
	IdempotenceCacheTTL time.Duration `yaml:"idempotence_cache_ttl"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		WorkerCount:            8,
		MaxConcurrentTasks:     20,
		PollInterval:           200 * time.Millisecond,
		PreemptionGraceWindow:  10 * time.Second,
		IdempotenceCacheTTL:    1 * time.Hour,
	}
}
