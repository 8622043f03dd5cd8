package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/models"
)

type recordedViolation struct {
	violations []models.QuotaViolation
}

func (r *recordedViolation) RecordViolation(ctx context.Context, v models.QuotaViolation) error {
	r.violations = append(r.violations, v)
	return nil
}

type fakeHealth struct{ unresolved int }

func (f *fakeHealth) UnresolvedViolationsInLastHour(ctx context.Context, tenantID string) (int, error) {
	return f.unresolved, nil
}

func newTestEnforcer(t *testing.T) (*Enforcer, *recordedViolation, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tiers := config.NewTenantTierRegistry(map[string]*config.TenantTierConfig{
		"standard": {
			MaxCPUCores: 4, MaxMemoryGB: 8, MaxTokensPerDay: 1000, MaxCostPerDayUSD: 10,
			BurstCPUCores: 1, BurstMemoryGB: 2, ThrottleEnabled: true, ThrottleThreshold: 0.8,
		},
	})

	violations := &recordedViolation{}
	e := New(rdb, tiers, violations, &fakeHealth{})
	return e, violations, mr
}

func TestEnforcer_CheckQuotaAllowsWithinCeiling(t *testing.T) {
	e, _, _ := newTestEnforcer(t)
	ctx := context.Background()

	result, err := e.CheckQuota(ctx, "standard", "tenant-1", models.ResourceCPU, 2)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 0.5, result.PercentUsed)
}

func TestEnforcer_RecordUsageAccumulates(t *testing.T) {
	e, _, _ := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.RecordUsage(ctx, "tenant-1", models.ResourceTokens, 100))
	require.NoError(t, e.RecordUsage(ctx, "tenant-1", models.ResourceTokens, 50))

	result, err := e.CheckQuota(ctx, "standard", "tenant-1", models.ResourceTokens, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(150), result.CurrentUsage)
}

func TestEnforcer_EnforceQuotaRejectsOverCeilingWithoutBurst(t *testing.T) {
	e, violations, _ := newTestEnforcer(t)
	ctx := context.Background()

	result, err := e.EnforceQuota(ctx, "standard", "tenant-1", models.ResourceTokens, 1500)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	require.Len(t, violations.violations, 1)
	assert.Equal(t, "rejected", violations.violations[0].Action)
}

func TestEnforcer_EnforceQuotaAllowsBurstForCPU(t *testing.T) {
	e, violations, _ := newTestEnforcer(t)
	ctx := context.Background()

	result, err := e.EnforceQuota(ctx, "standard", "tenant-1", models.ResourceCPU, 4.5)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.True(t, result.BurstAllowed)
	require.Len(t, violations.violations, 1)
	assert.Equal(t, "burst_allowed", violations.violations[0].Action)
}

func TestEnforcer_ThrottleMarkerSetAboveThreshold(t *testing.T) {
	e, _, _ := newTestEnforcer(t)
	ctx := context.Background()

	_, err := e.EnforceQuota(ctx, "standard", "tenant-1", models.ResourceCost, 9)
	require.NoError(t, err)

	throttled, err := e.IsThrottled(ctx, "tenant-1")
	require.NoError(t, err)
	assert.True(t, throttled)
}

func TestEnforcer_UsageWindowExpires(t *testing.T) {
	e, _, mr := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.RecordUsage(ctx, "tenant-1", models.ResourceConcurrentRuns, 1))
	mr.FastForward(6 * time.Minute)

	result, err := e.CheckQuota(ctx, "standard", "tenant-1", models.ResourceConcurrentRuns, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(0), result.CurrentUsage)
}

func TestEnforcer_RollDailyWindowsResetsTokensAndCostAcrossTenants(t *testing.T) {
	e, _, _ := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.RecordUsage(ctx, "tenant-1", models.ResourceTokens, 500))
	require.NoError(t, e.RecordUsage(ctx, "tenant-2", models.ResourceCost, 4))
	require.NoError(t, e.RecordUsage(ctx, "tenant-1", models.ResourceCPU, 2)) // not a daily-window resource

	reset, err := e.RollDailyWindows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reset)

	tokens, err := e.CheckQuota(ctx, "standard", "tenant-1", models.ResourceTokens, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(0), tokens.CurrentUsage)

	cost, err := e.CheckQuota(ctx, "standard", "tenant-2", models.ResourceCost, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(0), cost.CurrentUsage)

	cpu, err := e.CheckQuota(ctx, "standard", "tenant-1", models.ResourceCPU, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, cpu.CurrentUsage)
}

func TestEnforcer_CalculateTenantHealthDeductsForHighUtilizationAndViolations(t *testing.T) {
	e, _, _ := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.RecordUsage(ctx, "tenant-1", models.ResourceCPU, 3.8)) // 95% of 4 cores
	require.NoError(t, e.RecordUsage(ctx, "tenant-1", models.ResourceCost, 9.6)) // 96% of $10

	e.health = &fakeHealth{unresolved: 2}

	score, err := e.CalculateTenantHealth(ctx, "standard", "tenant-1")
	require.NoError(t, err)
	// 100 - 20 (cpu>90%) - 30 (cost>95%) - 10 (2 unresolved * 5) = 40
	assert.Equal(t, 40, score)
}
