package config

import (
	"fmt"
	"sync"
)

// GuardRubricConfig declares one gatekeeper guard: its scoring weight,
// minimum passing score, and whether a failure blocks the phase outright
// or only escalates to SEM (spec §5).
type GuardRubricConfig struct {
	Description string  `yaml:"description,omitempty"`
	Weight      float64 `yaml:"weight" validate:"required,gt=0"`
	MinScore    float64 `yaml:"min_score" validate:"required,gte=0,lte=1"`
	Blocking    bool    `yaml:"blocking"`
	AutoFix     string  `yaml:"auto_fix,omitempty"` // retry|reroute_to_sem|escalate|none
}

// GuardRegistry stores guard rubrics in memory with thread-safe access.
type GuardRegistry struct {
	guards map[string]*GuardRubricConfig
	mu     sync.RWMutex
}

// NewGuardRegistry creates a guard registry from loaded rubrics.
func NewGuardRegistry(guards map[string]*GuardRubricConfig) *GuardRegistry {
	copied := make(map[string]*GuardRubricConfig, len(guards))
	for k, v := range guards {
		copied[k] = v
	}
	return &GuardRegistry{guards: copied}
}

// Get retrieves a guard rubric by name (thread-safe).
func (r *GuardRegistry) Get(name string) (*GuardRubricConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, exists := r.guards[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrGuardNotFound, name)
	}
	return g, nil
}

// GetAll returns all guard rubrics (thread-safe, returns copy).
func (r *GuardRegistry) GetAll() map[string]*GuardRubricConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*GuardRubricConfig, len(r.guards))
	for k, v := range r.guards {
		result[k] = v
	}
	return result
}

// Len returns the number of declared guards.
func (r *GuardRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.guards)
}
