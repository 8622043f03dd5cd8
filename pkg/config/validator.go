package config

import "fmt"

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation, fail-fast at the first
// error. Order matters: phases reference guards and tools, so those
// registries must already be known-good before cross-reference checks run.
func (v *Validator) ValidateAll() error {
	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}
	if err := v.validateGuards(); err != nil {
		return fmt.Errorf("guard validation failed: %w", err)
	}
	if err := v.validateTenantTiers(); err != nil {
		return fmt.Errorf("tenant tier validation failed: %w", err)
	}
	if err := v.validatePhases(); err != nil {
		return fmt.Errorf("phase validation failed: %w", err)
	}
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s == nil {
		return fmt.Errorf("scheduler configuration is nil")
	}
	if s.WorkerCount < 1 || s.WorkerCount > 256 {
		return fmt.Errorf("worker_count must be between 1 and 256, got %d", s.WorkerCount)
	}
	if s.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be at least 1, got %d", s.MaxConcurrentTasks)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", s.PollInterval)
	}
	if s.PreemptionGraceWindow <= 0 {
		return fmt.Errorf("preemption_grace_window must be positive, got %v", s.PreemptionGraceWindow)
	}
	return nil
}

func (v *Validator) validateGuards() error {
	for name, g := range v.cfg.GuardRegistry.GetAll() {
		if g.Weight <= 0 {
			return NewValidationError("guard", name, "weight", fmt.Errorf("must be > 0, got %v", g.Weight))
		}
		if g.MinScore < 0 || g.MinScore > 1 {
			return NewValidationError("guard", name, "min_score", fmt.Errorf("must be in [0,1], got %v", g.MinScore))
		}
		switch g.AutoFix {
		case "", "retry", "reroute_to_sem", "escalate", "none":
		default:
			return NewValidationError("guard", name, "auto_fix", fmt.Errorf("unknown strategy %q", g.AutoFix))
		}
	}
	return nil
}

func (v *Validator) validateTenantTiers() error {
	for name, t := range v.cfg.TenantTierRegistry.GetAll() {
		if t.MaxConcurrentRuns < 1 {
			return NewValidationError("tenant_tier", name, "max_concurrent_runs", fmt.Errorf("must be >= 1, got %d", t.MaxConcurrentRuns))
		}
		if t.ThrottleThreshold != 0 && (t.ThrottleThreshold <= 0 || t.ThrottleThreshold >= 1) {
			return NewValidationError("tenant_tier", name, "throttle_threshold", fmt.Errorf("must be in (0,1), got %v", t.ThrottleThreshold))
		}
	}
	return nil
}

func (v *Validator) validatePhases() error {
	guards := v.cfg.GuardRegistry.GetAll()
	tools := v.cfg.ToolAllowlistRegistry.GetAll()

	for name, p := range v.cfg.PhaseRegistry.GetAll() {
		switch p.Parallelism {
		case "sequential", "parallel", "partial", "iterative":
		default:
			return NewValidationError("phase", name, "parallelism", fmt.Errorf("unknown mode %q", p.Parallelism))
		}
		if len(p.Tasks) == 0 {
			return NewValidationError("phase", name, "tasks", fmt.Errorf("must declare at least one task"))
		}
		declared := make(map[string]bool, len(p.Tasks))
		for _, t := range p.Tasks {
			declared[t.Name] = true
		}
		for _, t := range p.Tasks {
			for _, dep := range t.DependsOn {
				if !declared[dep] {
					return NewValidationError("phase", name, "tasks["+t.Name+"].depends_on",
						fmt.Errorf("%w: undeclared task %q", ErrInvalidReference, dep))
				}
			}
			if t.Tool != "" {
				if _, ok := tools[t.Tool]; !ok {
					return NewValidationError("phase", name, "tasks["+t.Name+"].tool",
						fmt.Errorf("%w: undeclared tool %q", ErrInvalidReference, t.Tool))
				}
			}
		}
		for _, g := range p.RequiredGuards {
			if _, ok := guards[g]; !ok {
				return NewValidationError("phase", name, "required_guards",
					fmt.Errorf("%w: undeclared guard %q", ErrInvalidReference, g))
			}
		}
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d.BudgetThresholds == nil {
		return fmt.Errorf("budget_thresholds must be set")
	}
	t := d.BudgetThresholds
	if !(0 < t.Warn && t.Warn < t.Throttle && t.Throttle < t.Pause && t.Pause <= t.Preempt) {
		return fmt.Errorf("budget thresholds must strictly increase: warn=%v throttle=%v pause=%v preempt=%v",
			t.Warn, t.Throttle, t.Pause, t.Preempt)
	}
	if _, err := v.cfg.TenantTierRegistry.Get(d.DefaultTenantTier); err != nil {
		return fmt.Errorf("default_tenant_tier: %w", err)
	}
	return nil
}
