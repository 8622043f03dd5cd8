// Package admission provides the process-wiring glue cmd/runcore needs to
// satisfy pkg/coordinator's two composite dependencies: Gate composes the
// Priority Scheduler's freeze check and the Quota Enforcer's admission
// check into coordinator.Admitter, and Escalator (escalator.go) composes
// Self-Execution Mode's four lifecycle calls into coordinator.SEMEscalator.
// Both follow the same shape as this repo's service-layer methods
// elsewhere: one caller-facing call routing through several narrower
// collaborators underneath.
package admission

import (
	"context"
	"fmt"

	"github.com/pipeforge/runcore/pkg/models"
)

// RunLookup resolves a run's tenant for quota checks. Satisfied by
// *pkg/runstore.Store.
type RunLookup interface {
	GetRun(ctx context.Context, runID string) (*models.Run, error)
}

// Scheduler is the subset of the Priority Scheduler the admission gate
// consults. Satisfied by *pkg/scheduler.Queue (and *pkg/scheduler.Controller,
// which embeds one).
type Scheduler interface {
	IsFrozen(runID string) bool
}

// QuotaEnforcer checks and records resource usage against a tenant's tier.
// Satisfied by *pkg/quota.Enforcer.
type QuotaEnforcer interface {
	EnforceQuota(ctx context.Context, tenantTier, tenantID string, resource models.ResourceType, amount float64) (*models.QuotaCheckResult, error)
}

// Gate composes the scheduler freeze check and the tenant's token/cost
// quota check into pkg/coordinator.Admitter (spec §4.2 step 3). Every
// tenant is checked against a single configured tier: the repo has no
// per-tenant tier override table, so every run's quota ceiling comes from
// tier — normally config.Defaults.DefaultTenantTier, the field pkg/config
// already documents as the fallback "for tenants with no persisted quota
// row".
type Gate struct {
	runs      RunLookup
	scheduler Scheduler
	quota     QuotaEnforcer
	tier      string
}

// New creates a Gate. quota may be nil (quota enforcement disabled).
func New(runs RunLookup, scheduler Scheduler, quota QuotaEnforcer, tier string) *Gate {
	return &Gate{runs: runs, scheduler: scheduler, quota: quota, tier: tier}
}

// Admit implements pkg/coordinator.Admitter.
func (g *Gate) Admit(ctx context.Context, task *models.TaskSpec) (bool, error) {
	if g.scheduler != nil && g.scheduler.IsFrozen(task.RunID) {
		return false, nil
	}

	if g.quota == nil {
		return true, nil
	}

	run, err := g.runs.GetRun(ctx, task.RunID)
	if err != nil {
		return false, fmt.Errorf("admission: load run %s: %w", task.RunID, err)
	}

	if task.Budget.Tokens > 0 {
		result, err := g.quota.EnforceQuota(ctx, g.tier, run.TenantID, models.ResourceTokens, float64(task.Budget.Tokens))
		if err != nil {
			return false, fmt.Errorf("admission: token quota check: %w", err)
		}
		if !result.Allowed {
			return false, nil
		}
	}

	if task.Budget.USD > 0 {
		result, err := g.quota.EnforceQuota(ctx, g.tier, run.TenantID, models.ResourceCost, task.Budget.USD)
		if err != nil {
			return false, fmt.Errorf("admission: cost quota check: %w", err)
		}
		if !result.Allowed {
			return false, nil
		}
	}

	return true, nil
}
