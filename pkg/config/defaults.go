package config

// Defaults holds system-wide fallback values applied wherever a phase
// manifest or task spec leaves a field unset.
type Defaults struct {
	// DefaultPriorityClass is used for tasks that declare none (spec §4.4).
	DefaultPriorityClass string `yaml:"default_priority_class,omitempty"`

	// DefaultMaxRetries bounds transient-error retries when a task's
	// manifest entry omits max_retries (spec §4.3).
	DefaultMaxRetries *int `yaml:"default_max_retries,omitempty" validate:"omitempty,min=0"`

	// BudgetThresholds are the percent-of-total-budget trip points that
	// fire warn/throttle/pause/preempt events (spec §4.6). Zero values
	// fall back to BudgetThresholdsDefault.
	BudgetThresholds *BudgetThresholds `yaml:"budget_thresholds,omitempty"`

	// DefaultTenantTier is used for tenants with no persisted quota row.
	DefaultTenantTier string `yaml:"default_tenant_tier,omitempty"`
}

// BudgetThresholds is the percent-of-total trip points for the budget
// guard (spec §4.6). Each must strictly increase.
type BudgetThresholds struct {
	Warn     float64 `yaml:"warn" validate:"required,gt=0,lt=1"`
	Throttle float64 `yaml:"throttle" validate:"required,gt=0,lt=1"`
	Pause    float64 `yaml:"pause" validate:"required,gt=0,lt=1"`
	Preempt  float64 `yaml:"preempt" validate:"required,gt=0,lte=1"`
}

// BudgetThresholdsDefault returns the default trip points: 50% warn, 80%
// throttle, 95% pause, 100% preempt.
func BudgetThresholdsDefault() *BudgetThresholds {
	return &BudgetThresholds{Warn: 0.50, Throttle: 0.80, Pause: 0.95, Preempt: 1.00}
}
