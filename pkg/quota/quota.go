// Package quota implements the Quota Enforcer (spec §4.5): it gates every
// task admission on per-tenant resource availability, records consumption,
// and computes a rolling tenant health score. Usage counters live in Redis
// so admission checks stay cheap and windows expire for free.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/models"
)

// window is the rolling-aggregation period for one resource type
// (spec §4.5 "Usage windows").
func window(resource models.ResourceType) time.Duration {
	switch resource {
	case models.ResourceCPU, models.ResourceMemory, models.ResourceGPU:
		return time.Hour
	case models.ResourceTokens, models.ResourceCost:
		return 24 * time.Hour
	case models.ResourceConcurrentRuns:
		return 5 * time.Minute
	default:
		return 0 // storage: cumulative, no window
	}
}

// burstSupported reports whether resource supports burst admission.
func burstSupported(resource models.ResourceType) bool {
	return resource == models.ResourceCPU || resource == models.ResourceMemory
}

const throttlePenalty = 5 * time.Second

// ViolationRecorder persists a QuotaViolation row. Implemented by the
// caller's storage layer; kept as an interface so quota stays testable
// without a database.
type ViolationRecorder interface {
	RecordViolation(ctx context.Context, v models.QuotaViolation) error
}

// HealthInputs supplies the extra signal calculate_tenant_health needs
// beyond the rolling usage windows: count of unresolved violations from
// the last hour.
type HealthInputs interface {
	UnresolvedViolationsInLastHour(ctx context.Context, tenantID string) (int, error)
}

// Enforcer is the Quota Enforcer. One instance serves all tenants; usage
// state is partitioned in Redis by tenant+resource key.
type Enforcer struct {
	rdb        *redis.Client
	tiers      *config.TenantTierRegistry
	violations ViolationRecorder
	health     HealthInputs
}

// New creates an Enforcer backed by rdb, resolving tenant ceilings from
// tiers and persisting violations/reading health signals through v/h.
func New(rdb *redis.Client, tiers *config.TenantTierRegistry, v ViolationRecorder, h HealthInputs) *Enforcer {
	return &Enforcer{rdb: rdb, tiers: tiers, violations: v, health: h}
}

func usageKey(tenantID string, resource models.ResourceType) string {
	return fmt.Sprintf("quota:usage:%s:%s", tenantID, resource)
}

func throttleKey(tenantID string) string {
	return fmt.Sprintf("quota:throttled:%s", tenantID)
}

func burstKey(tenantID string, resource models.ResourceType) string {
	return fmt.Sprintf("quota:burst:%s:%s", tenantID, resource)
}

// quotaCeiling resolves the raw quota amount for (tier, resource).
func quotaCeiling(tier *config.TenantTierConfig, resource models.ResourceType) float64 {
	switch resource {
	case models.ResourceCPU:
		return tier.MaxCPUCores
	case models.ResourceMemory:
		return tier.MaxMemoryGB
	case models.ResourceStorage:
		return tier.MaxStorageGB
	case models.ResourceTokens:
		return float64(tier.MaxTokensPerDay)
	case models.ResourceCost:
		return tier.MaxCostPerDayUSD
	case models.ResourceGPU:
		return float64(tier.MaxGPUs)
	case models.ResourceConcurrentRuns:
		return float64(tier.MaxConcurrentRuns)
	default:
		return 0
	}
}

func burstCeiling(tier *config.TenantTierConfig, resource models.ResourceType) float64 {
	switch resource {
	case models.ResourceCPU:
		return tier.BurstCPUCores
	case models.ResourceMemory:
		return tier.BurstMemoryGB
	default:
		return 0
	}
}

// CheckQuota reports whether amount more of resource can be admitted for
// tenantID without recording anything.
func (e *Enforcer) CheckQuota(ctx context.Context, tenantTier string, tenantID string, resource models.ResourceType, amount float64) (*models.QuotaCheckResult, error) {
	tier, err := e.tiers.Get(tenantTier)
	if err != nil {
		return nil, fmt.Errorf("quota.CheckQuota: %w", err)
	}

	current, err := e.currentUsage(ctx, tenantID, resource)
	if err != nil {
		return nil, fmt.Errorf("quota.CheckQuota: %w", err)
	}

	quotaAmount := quotaCeiling(tier, resource)
	projected := current + amount
	percentUsed := 0.0
	if quotaAmount > 0 {
		percentUsed = projected / quotaAmount
	}

	result := &models.QuotaCheckResult{
		CurrentUsage: current,
		Quota:        quotaAmount,
		PercentUsed:  percentUsed,
		Allowed:      quotaAmount == 0 || projected <= quotaAmount,
	}

	if !result.Allowed && burstSupported(resource) {
		burstCeil := burstCeiling(tier, resource)
		if burstCeil > 0 && projected <= quotaAmount+burstCeil {
			result.Allowed = true
			result.BurstAllowed = true
		}
	}

	return result, nil
}

// RecordUsage appends a usage unit for tenantID/resource, incrementing the
// Redis counter and (re)applying the window TTL.
func (e *Enforcer) RecordUsage(ctx context.Context, tenantID string, resource models.ResourceType, amount float64) error {
	key := usageKey(tenantID, resource)

	pipe := e.rdb.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, amount)
	if ttl := window(resource); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("quota.RecordUsage: %w", err)
	}
	_ = incr
	return nil
}

// EnforceQuota performs an atomic check-then-record admission: it checks
// quota, and if allowed, records the usage and raises a throttle marker
// once percentUsed crosses the tier's throttle threshold.
func (e *Enforcer) EnforceQuota(ctx context.Context, tenantTier, tenantID string, resource models.ResourceType, amount float64) (*models.QuotaCheckResult, error) {
	if throttled, err := e.IsThrottled(ctx, tenantID); err != nil {
		return nil, err
	} else if throttled {
		time.Sleep(throttlePenalty)
	}

	tier, err := e.tiers.Get(tenantTier)
	if err != nil {
		return nil, fmt.Errorf("quota.EnforceQuota: %w", err)
	}

	result, err := e.CheckQuota(ctx, tenantTier, tenantID, resource, amount)
	if err != nil {
		return nil, err
	}

	if !result.Allowed {
		if e.violations != nil {
			overage := (result.CurrentUsage + amount - result.Quota) / result.Quota * 100
			_ = e.violations.RecordViolation(ctx, models.QuotaViolation{
				TenantID: tenantID, ResourceType: resource,
				RequestedAmount: amount, QuotaAmount: result.Quota,
				OveragePercent: overage, Severity: models.SeverityForOverage(overage),
				Action: "rejected", CreatedAt: time.Now().UTC(),
			})
		}
		return result, nil
	}

	if err := e.RecordUsage(ctx, tenantID, resource, amount); err != nil {
		return nil, err
	}

	if result.BurstAllowed && e.violations != nil {
		_ = e.violations.RecordViolation(ctx, models.QuotaViolation{
			TenantID: tenantID, ResourceType: resource,
			RequestedAmount: amount, QuotaAmount: result.Quota,
			Action: "burst_allowed", CreatedAt: time.Now().UTC(),
		})
	}

	if tier.ThrottleEnabled && result.PercentUsed >= tier.ThrottleThreshold {
		if err := e.rdb.Set(ctx, throttleKey(tenantID), "1", 5*time.Minute).Err(); err != nil {
			return nil, fmt.Errorf("quota.EnforceQuota: set throttle marker: %w", err)
		}
	}

	return result, nil
}

// dailyWindowResources are the resources whose window TTL is reapplied on
// every RecordUsage call: an always-active tenant keeps pushing its key's
// expiry forward and so never naturally rolls over. RollDailyWindows
// forces the reset a passive TTL can't guarantee.
var dailyWindowResources = []models.ResourceType{models.ResourceTokens, models.ResourceCost}

// RollDailyWindows resets every tenant's usage counter for the 24-hour
// window resources, regardless of remaining TTL. Intended to run once a
// day; returns the number of usage keys it reset.
func (e *Enforcer) RollDailyWindows(ctx context.Context) (int, error) {
	var resetCount int
	for _, resource := range dailyWindowResources {
		pattern := usageKey("*", resource)
		iter := e.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return resetCount, fmt.Errorf("quota.RollDailyWindows: scan %s: %w", resource, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := e.rdb.Del(ctx, keys...).Err(); err != nil {
			return resetCount, fmt.Errorf("quota.RollDailyWindows: delete %s: %w", resource, err)
		}
		resetCount += len(keys)
	}
	return resetCount, nil
}

// IsThrottled reports whether tenantID is currently under the 5-minute
// throttle marker.
func (e *Enforcer) IsThrottled(ctx context.Context, tenantID string) (bool, error) {
	n, err := e.rdb.Exists(ctx, throttleKey(tenantID)).Result()
	if err != nil {
		return false, fmt.Errorf("quota.IsThrottled: %w", err)
	}
	return n > 0, nil
}

func (e *Enforcer) currentUsage(ctx context.Context, tenantID string, resource models.ResourceType) (float64, error) {
	v, err := e.rdb.Get(ctx, usageKey(tenantID, resource)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// CalculateTenantHealth computes the [0,100] health score (spec §4.5):
// starts at 100 and is decreased by high resource utilization and
// unresolved recent violations.
func (e *Enforcer) CalculateTenantHealth(ctx context.Context, tenantTier, tenantID string) (int, error) {
	tier, err := e.tiers.Get(tenantTier)
	if err != nil {
		return 0, fmt.Errorf("quota.CalculateTenantHealth: %w", err)
	}

	score := 100

	for _, resource := range []models.ResourceType{models.ResourceCPU, models.ResourceMemory} {
		current, err := e.currentUsage(ctx, tenantID, resource)
		if err != nil {
			return 0, err
		}
		ceiling := quotaCeiling(tier, resource)
		if ceiling <= 0 {
			continue
		}
		pct := current / ceiling * 100
		switch {
		case pct > 90:
			score -= 20
		case pct > 75:
			score -= 10
		}
	}

	costUsage, err := e.currentUsage(ctx, tenantID, models.ResourceCost)
	if err != nil {
		return 0, err
	}
	if tier.MaxCostPerDayUSD > 0 {
		pct := costUsage / tier.MaxCostPerDayUSD * 100
		switch {
		case pct > 95:
			score -= 30
		case pct > 80:
			score -= 15
		}
	}

	if e.health != nil {
		unresolved, err := e.health.UnresolvedViolationsInLastHour(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		score -= 5 * unresolved
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}
