package config

import (
	"fmt"
	"sync"
)

// PhaseManifestConfig declares one of the run's phases: how its tasks run
// relative to each other, what they depend on, and their default priority.
type PhaseManifestConfig struct {
	// Order is the phase's position in the fixed six-phase sequence
	// (spec §4.1): discovery|design|implementation|verification|integration|release.
	Order string `yaml:"order" validate:"required"`

	// Description is a human-readable summary shown on the run timeline.
	Description string `yaml:"description,omitempty"`

	// Parallelism selects how declared tasks are scheduled within the phase
	// (spec §4.2): sequential|parallel|partial|iterative.
	Parallelism string `yaml:"parallelism" validate:"required"`

	// Tasks are the declared task specs for this phase (min 1).
	Tasks []TaskManifestConfig `yaml:"tasks" validate:"required,min=1,dive"`

	// RequiredGuards names the gatekeeper rubrics this phase must pass
	// before the coordinator advances to the next phase.
	RequiredGuards []string `yaml:"required_guards,omitempty"`

	// DefaultPriorityClass is applied to tasks that don't declare their own.
	DefaultPriorityClass string `yaml:"default_priority_class,omitempty"`

	// MaxConcurrentTasks caps in-flight tasks for "parallel" phases.
	MaxConcurrentTasks *int `yaml:"max_concurrent_tasks,omitempty" validate:"omitempty,min=1"`
}

// TaskManifestConfig declares one task within a phase manifest.
type TaskManifestConfig struct {
	Name          string   `yaml:"name" validate:"required"`
	Type          string   `yaml:"type" validate:"required"`
	DependsOn     []string `yaml:"depends_on,omitempty"`
	PriorityClass string   `yaml:"priority_class,omitempty"`
	Tool          string   `yaml:"tool,omitempty"`
	MaxRetries    *int     `yaml:"max_retries,omitempty" validate:"omitempty,min=0"`
}

// PhaseManifestRegistry stores phase manifests in memory with thread-safe
// access, keyed by phase name.
type PhaseManifestRegistry struct {
	phases map[string]*PhaseManifestConfig
	order  []string // Order slice preserves declaration order for sequential fallback.
	mu     sync.RWMutex
}

// NewPhaseManifestRegistry creates a registry from loaded phase manifests.
func NewPhaseManifestRegistry(phases map[string]*PhaseManifestConfig, order []string) *PhaseManifestRegistry {
	copied := make(map[string]*PhaseManifestConfig, len(phases))
	for k, v := range phases {
		copied[k] = v
	}
	orderCopy := make([]string, len(order))
	copy(orderCopy, order)
	return &PhaseManifestRegistry{phases: copied, order: orderCopy}
}

// Get retrieves a phase manifest by name (thread-safe).
func (r *PhaseManifestRegistry) Get(name string) (*PhaseManifestConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.phases[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPhaseNotFound, name)
	}
	return p, nil
}

// GetAll returns all phase manifests (thread-safe, returns copy).
func (r *PhaseManifestRegistry) GetAll() map[string]*PhaseManifestConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*PhaseManifestConfig, len(r.phases))
	for k, v := range r.phases {
		result[k] = v
	}
	return result
}

// Order returns the declared phase sequence.
func (r *PhaseManifestRegistry) Order() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Len returns the number of declared phases.
func (r *PhaseManifestRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.phases)
}
