package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	phases := map[string]*PhaseManifestConfig{
		"discovery": {
			Order:       "discovery",
			Parallelism: "parallel",
			Tasks: []TaskManifestConfig{
				{Name: "collect_requirements", Type: "research"},
			},
			RequiredGuards: []string{"schema_guard"},
		},
	}
	guards := map[string]*GuardRubricConfig{
		"schema_guard": {Weight: 1.0, MinScore: 1.0, Blocking: true},
	}
	tiers := map[string]*TenantTierConfig{
		"standard": {MaxConcurrentRuns: 5, MaxTokensPerDay: 1000},
	}
	tools := map[string]*ToolAllowlistConfig{
		"test_runner": {Phases: []string{"verification"}},
	}

	return &Config{
		configDir:             "/test/config",
		Defaults:              &Defaults{DefaultTenantTier: "standard", BudgetThresholds: BudgetThresholdsDefault()},
		PhaseRegistry:         NewPhaseManifestRegistry(phases, []string{"discovery"}),
		GuardRegistry:         NewGuardRegistry(guards),
		TenantTierRegistry:    NewTenantTierRegistry(tiers),
		ToolAllowlistRegistry: NewToolAllowlistRegistry(tools),
	}
}

func TestConfigConvenienceMethods(t *testing.T) {
	cfg := testConfig()

	t.Run("ConfigDir", func(t *testing.T) {
		assert.Equal(t, "/test/config", cfg.ConfigDir())
	})

	t.Run("GetPhase success", func(t *testing.T) {
		p, err := cfg.GetPhase("discovery")
		require.NoError(t, err)
		assert.Equal(t, "parallel", p.Parallelism)
	})

	t.Run("GetPhase not found", func(t *testing.T) {
		_, err := cfg.GetPhase("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPhaseNotFound)
	})

	t.Run("GetGuard success", func(t *testing.T) {
		g, err := cfg.GetGuard("schema_guard")
		require.NoError(t, err)
		assert.True(t, g.Blocking)
	})

	t.Run("GetTenantTier success", func(t *testing.T) {
		tier, err := cfg.GetTenantTier("standard")
		require.NoError(t, err)
		assert.Equal(t, 5, tier.MaxConcurrentRuns)
	})

	t.Run("IsToolAllowed respects phase scoping", func(t *testing.T) {
		assert.True(t, cfg.IsToolAllowed("test_runner", "verification"))
		assert.False(t, cfg.IsToolAllowed("test_runner", "release"))
		assert.False(t, cfg.IsToolAllowed("nonexistent_tool", "verification"))
	})

	t.Run("Stats", func(t *testing.T) {
		stats := cfg.Stats()
		assert.Equal(t, 1, stats.Phases)
		assert.Equal(t, 1, stats.Guards)
		assert.Equal(t, 1, stats.TenantTiers)
		assert.Equal(t, 1, stats.AllowlistedTools)
	})
}

func TestValidatorCatchesBadPhaseReferences(t *testing.T) {
	cfg := testConfig()
	phases := cfg.PhaseRegistry.GetAll()
	bad := *phases["discovery"]
	bad.RequiredGuards = []string{"nonexistent_guard"}
	cfg.PhaseRegistry = NewPhaseManifestRegistry(map[string]*PhaseManifestConfig{"discovery": &bad}, []string{"discovery"})

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestBudgetThresholdsMustStrictlyIncrease(t *testing.T) {
	cfg := testConfig()
	cfg.Defaults.BudgetThresholds = &BudgetThresholds{Warn: 0.8, Throttle: 0.5, Pause: 0.9, Preempt: 1.0}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget thresholds must strictly increase")
}
