package config

import "sync"

// BuiltinConfig holds all built-in configuration data: the default
// six-phase manifest sequence, guard rubrics, tenant tier defaults, and
// the SEM tool allow-list. User YAML overrides these on a per-key basis.
type BuiltinConfig struct {
	Phases        map[string]PhaseManifestConfig
	PhaseOrder    []string
	Guards        map[string]GuardRubricConfig
	TenantTiers   map[string]TenantTierConfig
	ToolAllowlist map[string]ToolAllowlistConfig
	DefaultTier   string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration
// (thread-safe, lazy-initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Phases:        initBuiltinPhases(),
		PhaseOrder:    []string{"discovery", "design", "implementation", "verification", "integration", "release"},
		Guards:        initBuiltinGuards(),
		TenantTiers:   initBuiltinTenantTiers(),
		ToolAllowlist: initBuiltinToolAllowlist(),
		DefaultTier:   "standard",
	}
}

func intPtr(n int) *int { return &n }

func initBuiltinPhases() map[string]PhaseManifestConfig {
	return map[string]PhaseManifestConfig{
		"discovery": {
			Order:                 "discovery",
			Description:           "Gathers requirements and constraints before design starts",
			Parallelism:           "parallel",
			DefaultPriorityClass:  "P1",
			RequiredGuards:        []string{"schema_guard"},
			MaxConcurrentTasks:    intPtr(4),
			Tasks: []TaskManifestConfig{
				{Name: "collect_requirements", Type: "research", PriorityClass: "P1"},
				{Name: "survey_existing_code", Type: "research", PriorityClass: "P2"},
			},
		},
		"design": {
			Order:                "design",
			Description:          "Produces the technical design evaluated by the gatekeeper",
			Parallelism:          "sequential",
			DefaultPriorityClass: "P1",
			RequiredGuards:       []string{"schema_guard", "quality_guard"},
			Tasks: []TaskManifestConfig{
				{Name: "draft_design", Type: "design", DependsOn: []string{}, PriorityClass: "P1"},
				{Name: "review_design", Type: "design", DependsOn: []string{"draft_design"}, PriorityClass: "P1"},
			},
		},
		"implementation": {
			Order:                "implementation",
			Description:          "Implements the design's tasks, parallel where independent",
			Parallelism:          "partial",
			DefaultPriorityClass: "P1",
			RequiredGuards:       []string{"schema_guard"},
			MaxConcurrentTasks:   intPtr(10),
			Tasks: []TaskManifestConfig{
				{Name: "implement_core", Type: "codegen", PriorityClass: "P1"},
				{Name: "implement_support", Type: "codegen", DependsOn: []string{"implement_core"}, PriorityClass: "P2"},
			},
		},
		"verification": {
			Order:                "verification",
			Description:          "Runs tests and static checks against the implementation",
			Parallelism:          "parallel",
			DefaultPriorityClass: "P1",
			RequiredGuards:       []string{"quality_guard", "security_guard"},
			MaxConcurrentTasks:   intPtr(6),
			Tasks: []TaskManifestConfig{
				{Name: "unit_tests", Type: "test", PriorityClass: "P1"},
				{Name: "static_analysis", Type: "test", PriorityClass: "P2"},
				{Name: "security_scan", Type: "test", PriorityClass: "P1"},
			},
		},
		"integration": {
			Order:                "integration",
			Description:          "Integrates verified changes and re-validates as a whole",
			Parallelism:          "sequential",
			DefaultPriorityClass: "P1",
			RequiredGuards:       []string{"quality_guard"},
			Tasks: []TaskManifestConfig{
				{Name: "merge_changes", Type: "integration", PriorityClass: "P1"},
				{Name: "integration_tests", Type: "test", DependsOn: []string{"merge_changes"}, PriorityClass: "P1"},
			},
		},
		"release": {
			Order:                "release",
			Description:          "Packages and publishes the final artifacts",
			Parallelism:          "sequential",
			DefaultPriorityClass: "P0",
			RequiredGuards:       []string{"security_guard", "privacy_guard"},
			Tasks: []TaskManifestConfig{
				{Name: "package_artifacts", Type: "release", PriorityClass: "P0"},
				{Name: "publish", Type: "release", DependsOn: []string{"package_artifacts"}, PriorityClass: "P0"},
			},
		},
	}
}

func initBuiltinGuards() map[string]GuardRubricConfig {
	return map[string]GuardRubricConfig{
		"schema_guard": {
			Description: "Validates task output against its declared schema",
			Weight:      1.0,
			MinScore:    1.0,
			Blocking:    true,
			AutoFix:     "retry",
		},
		"quality_guard": {
			Description: "Scores code quality, test coverage, and style adherence",
			Weight:      0.6,
			MinScore:    0.7,
			Blocking:    true,
			AutoFix:     "reroute_to_sem",
		},
		"security_guard": {
			Description: "Flags injected secrets, unsafe dependencies, and known CVEs",
			Weight:      0.8,
			MinScore:    0.9,
			Blocking:    true,
			AutoFix:     "escalate",
		},
		"privacy_guard": {
			Description: "Detects PII and credential leakage in artifacts before release",
			Weight:      1.0,
			MinScore:    1.0,
			Blocking:    true,
			AutoFix:     "escalate",
		},
	}
}

func initBuiltinTenantTiers() map[string]TenantTierConfig {
	return map[string]TenantTierConfig{
		"free": {
			MaxCPUCores: 2, MaxMemoryGB: 4, MaxStorageGB: 10,
			MaxTokensPerDay: 200_000, MaxCostPerDayUSD: 5,
			MaxConcurrentRuns: 1, ThrottleEnabled: true, ThrottleThreshold: 0.9,
		},
		"standard": {
			MaxCPUCores: 8, MaxMemoryGB: 32, MaxStorageGB: 100,
			MaxTokensPerDay: 2_000_000, MaxCostPerDayUSD: 50,
			MaxConcurrentRuns: 5, BurstCPUCores: 4, BurstMemoryGB: 8,
			BurstDurationMinutes: 30, ThrottleEnabled: true, ThrottleThreshold: 0.85,
		},
		"enterprise": {
			MaxCPUCores: 64, MaxMemoryGB: 256, MaxStorageGB: 1000,
			MaxGPUs: 4, MaxTokensPerDay: 20_000_000, MaxCostPerDayUSD: 1000,
			MaxConcurrentRuns: 50, BurstCPUCores: 32, BurstMemoryGB: 64,
			BurstDurationMinutes: 60, ThrottleEnabled: false,
		},
	}
}

func initBuiltinToolAllowlist() map[string]ToolAllowlistConfig {
	return map[string]ToolAllowlistConfig{
		"code_formatter": {
			Description: "Reformats source to the project style guide",
			Produces:    []string{"formatted_source"},
			Phases:      []string{"implementation"},
		},
		"test_runner": {
			Description: "Executes a test suite and captures pass/fail results",
			Produces:    []string{"test_report"},
			Phases:      []string{"verification", "integration"},
		},
		"static_linter": {
			Description: "Runs static analysis and reports violations",
			Produces:    []string{"lint_report"},
			Phases:      []string{"verification"},
		},
		"dependency_scanner": {
			Description: "Scans declared dependencies for known vulnerabilities",
			Produces:    []string{"vuln_report"},
			Phases:      []string{"verification", "release"},
		},
		"doc_generator": {
			Description: "Generates reference documentation from source",
			Produces:    []string{"docs"},
			Phases:      []string{},
		},
	}
}
