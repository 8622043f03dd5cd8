package config

// mergePhases merges built-in and user-defined phase manifests. User-defined
// phases override built-in phases declaring the same name.
func mergePhases(builtin, user map[string]PhaseManifestConfig) map[string]*PhaseManifestConfig {
	result := make(map[string]*PhaseManifestConfig, len(builtin)+len(user))
	for name, p := range builtin {
		pc := p
		result[name] = &pc
	}
	for name, p := range user {
		pc := p
		result[name] = &pc
	}
	return result
}

// mergeGuards merges built-in and user-defined guard rubrics. User-defined
// guards override built-in guards declaring the same name.
func mergeGuards(builtin, user map[string]GuardRubricConfig) map[string]*GuardRubricConfig {
	result := make(map[string]*GuardRubricConfig, len(builtin)+len(user))
	for name, g := range builtin {
		gc := g
		result[name] = &gc
	}
	for name, g := range user {
		gc := g
		result[name] = &gc
	}
	return result
}

// mergeTenantTiers merges built-in and user-defined tenant tier defaults.
func mergeTenantTiers(builtin, user map[string]TenantTierConfig) map[string]*TenantTierConfig {
	result := make(map[string]*TenantTierConfig, len(builtin)+len(user))
	for name, t := range builtin {
		tc := t
		result[name] = &tc
	}
	for name, t := range user {
		tc := t
		result[name] = &tc
	}
	return result
}

// mergeToolAllowlist merges built-in and user-defined tool allow-list entries.
func mergeToolAllowlist(builtin, user map[string]ToolAllowlistConfig) map[string]*ToolAllowlistConfig {
	result := make(map[string]*ToolAllowlistConfig, len(builtin)+len(user))
	for name, t := range builtin {
		tc := t
		result[name] = &tc
	}
	for name, t := range user {
		tc := t
		result[name] = &tc
	}
	return result
}
