// Package config provides configuration management for the runcore
// orchestrator: phase manifests, guard rubrics, tenant tier defaults, and
// the Self-Execution Mode tool allow-list.
package config

// Config is the umbrella configuration object encapsulating all registries
// and defaults. This is the primary object returned by Initialize() and
// threaded through the rest of the application.
type Config struct {
	configDir string

	Defaults      *Defaults
	Scheduler     *SchedulerConfig
	QuotaRollover *QuotaRolloverConfig
	Slack         *SlackYAMLConfig
	Redis         *RedisYAMLConfig
	Database      *DBYAMLConfig

	DashboardURL     string
	AllowedWSOrigins []string

	PhaseRegistry         *PhaseManifestRegistry
	GuardRegistry         *GuardRegistry
	TenantTierRegistry    *TenantTierRegistry
	ToolAllowlistRegistry *ToolAllowlistRegistry
}

// ConfigStats contains statistics about loaded configuration.
type ConfigStats struct {
	Phases           int
	Guards           int
	TenantTiers      int
	AllowlistedTools int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Phases:           c.PhaseRegistry.Len(),
		Guards:           c.GuardRegistry.Len(),
		TenantTiers:      len(c.TenantTierRegistry.GetAll()),
		AllowlistedTools: len(c.ToolAllowlistRegistry.GetAll()),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// GetPhase retrieves a phase manifest by name.
func (c *Config) GetPhase(name string) (*PhaseManifestConfig, error) {
	return c.PhaseRegistry.Get(name)
}

// GetGuard retrieves a guard rubric by name.
func (c *Config) GetGuard(name string) (*GuardRubricConfig, error) {
	return c.GuardRegistry.Get(name)
}

// GetTenantTier retrieves the default quota for a tenant tier.
func (c *Config) GetTenantTier(tier string) (*TenantTierConfig, error) {
	return c.TenantTierRegistry.Get(tier)
}

// IsToolAllowed reports whether tool may be invoked by SEM during phase.
func (c *Config) IsToolAllowed(tool, phase string) bool {
	return c.ToolAllowlistRegistry.IsAllowed(tool, phase)
}
