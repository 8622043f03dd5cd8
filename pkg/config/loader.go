package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// RuncoreYAMLConfig represents the complete runcore.yaml file structure.
type RuncoreYAMLConfig struct {
	System        *SystemYAMLConfig               `yaml:"system"`
	Phases        map[string]PhaseManifestConfig   `yaml:"phases"`
	PhaseOrder    []string                         `yaml:"phase_order"`
	Guards        map[string]GuardRubricConfig     `yaml:"guards"`
	TenantTiers   map[string]TenantTierConfig      `yaml:"tenant_tiers"`
	ToolAllowlist map[string]ToolAllowlistConfig    `yaml:"tool_allowlist"`
	Defaults      *Defaults                        `yaml:"defaults"`
	Scheduler     *SchedulerConfig                 `yaml:"scheduler"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load runcore.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined phases/guards/tiers/allow-list
//  5. Build in-memory registries
//  6. Apply default values
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized successfully",
		"phases", stats.Phases,
		"guards", stats.Guards,
		"tenant_tiers", stats.TenantTiers,
		"allowlisted_tools", stats.AllowlistedTools)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadRuncoreYAML()
	if err != nil {
		return nil, NewLoadError("runcore.yaml", err)
	}

	builtin := GetBuiltinConfig()

	phases := mergePhases(builtin.Phases, yamlCfg.Phases)
	guards := mergeGuards(builtin.Guards, yamlCfg.Guards)
	tiers := mergeTenantTiers(builtin.TenantTiers, yamlCfg.TenantTiers)
	tools := mergeToolAllowlist(builtin.ToolAllowlist, yamlCfg.ToolAllowlist)

	phaseOrder := yamlCfg.PhaseOrder
	if len(phaseOrder) == 0 {
		phaseOrder = builtin.PhaseOrder
	}

	phaseRegistry := NewPhaseManifestRegistry(phases, phaseOrder)
	guardRegistry := NewGuardRegistry(guards)
	tierRegistry := NewTenantTierRegistry(tiers)
	toolRegistry := NewToolAllowlistRegistry(tools)

	defaults := yamlCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.DefaultPriorityClass == "" {
		defaults.DefaultPriorityClass = "P2"
	}
	if defaults.DefaultMaxRetries == nil {
		defaults.DefaultMaxRetries = intPtr(3)
	}
	if defaults.BudgetThresholds == nil {
		defaults.BudgetThresholds = BudgetThresholdsDefault()
	}
	if defaults.DefaultTenantTier == "" {
		defaults.DefaultTenantTier = builtin.DefaultTier
	}

	schedulerCfg := DefaultSchedulerConfig()
	if yamlCfg.Scheduler != nil {
		if err := mergo.Merge(schedulerCfg, yamlCfg.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
		}
	}

	quotaRolloverCfg := resolveQuotaRolloverConfig(yamlCfg.System)
	slackCfg := resolveSlackConfig(yamlCfg.System)
	redisCfg := resolveRedisConfig(yamlCfg.System)
	dbCfg := resolveDBConfig(yamlCfg.System)
	dashboardURL := resolveDashboardURL(yamlCfg.System)
	allowedWSOrigins := resolveAllowedWSOrigins(yamlCfg.System)

	return &Config{
		configDir:         configDir,
		Defaults:          defaults,
		Scheduler:         schedulerCfg,
		QuotaRollover:     quotaRolloverCfg,
		Slack:             slackCfg,
		Redis:             redisCfg,
		Database:          dbCfg,
		DashboardURL:       dashboardURL,
		AllowedWSOrigins:  allowedWSOrigins,
		PhaseRegistry:     phaseRegistry,
		GuardRegistry:     guardRegistry,
		TenantTierRegistry: tierRegistry,
		ToolAllowlistRegistry: toolRegistry,
	}, nil
}

func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand $VAR / ${VAR} before parsing so secrets never live in the file.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadRuncoreYAML() (*RuncoreYAMLConfig, error) {
	var cfg RuncoreYAMLConfig
	cfg.Phases = make(map[string]PhaseManifestConfig)
	cfg.Guards = make(map[string]GuardRubricConfig)
	cfg.TenantTiers = make(map[string]TenantTierConfig)
	cfg.ToolAllowlist = make(map[string]ToolAllowlistConfig)

	if err := l.loadYAML("runcore.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveSlackConfig(sys *SystemYAMLConfig) *SlackYAMLConfig {
	cfg := &SlackYAMLConfig{TokenEnv: "SLACK_BOT_TOKEN"}
	if sys == nil || sys.Slack == nil {
		return cfg
	}
	s := sys.Slack
	if s.Enabled != nil {
		cfg.Enabled = s.Enabled
	}
	if s.TokenEnv != "" {
		cfg.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Channel = s.Channel
	}
	return cfg
}

func resolveRedisConfig(sys *SystemYAMLConfig) *RedisYAMLConfig {
	cfg := &RedisYAMLConfig{Addr: "localhost:6379"}
	if sys == nil || sys.Redis == nil {
		return cfg
	}
	r := sys.Redis
	if r.Addr != "" {
		cfg.Addr = r.Addr
	}
	cfg.Password = r.Password
	cfg.DB = r.DB
	return cfg
}

func resolveDBConfig(sys *SystemYAMLConfig) *DBYAMLConfig {
	cfg := &DBYAMLConfig{
		MaxOpenConns:   20,
		MaxIdleConns:   5,
		MigrationsPath: "pkg/database/migrations",
	}
	if sys == nil || sys.Database == nil {
		return cfg
	}
	d := sys.Database
	if d.DSN != "" {
		cfg.DSN = d.DSN
	}
	if d.MaxOpenConns > 0 {
		cfg.MaxOpenConns = d.MaxOpenConns
	}
	if d.MaxIdleConns > 0 {
		cfg.MaxIdleConns = d.MaxIdleConns
	}
	if d.ConnMaxLifetime > 0 {
		cfg.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if d.MigrationsPath != "" {
		cfg.MigrationsPath = d.MigrationsPath
	}
	return cfg
}

func resolveQuotaRolloverConfig(sys *SystemYAMLConfig) *QuotaRolloverConfig {
	cfg := DefaultQuotaRolloverConfig()
	if sys == nil || sys.QuotaRollover == nil {
		return cfg
	}
	r := sys.QuotaRollover
	if r.Schedule != "" {
		cfg.Schedule = r.Schedule
	}
	return cfg
}

func resolveDashboardURL(sys *SystemYAMLConfig) string {
	if sys != nil && sys.DashboardURL != "" {
		return sys.DashboardURL
	}
	return "http://localhost:5173"
}

func resolveAllowedWSOrigins(sys *SystemYAMLConfig) []string {
	if sys != nil {
		return sys.AllowedWSOrigins
	}
	return nil
}
