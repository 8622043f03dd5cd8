// Package toolregistry resolves and invokes the tools Self-Execution Mode
// is allowed to call (spec §5.2): it validates a tool name against
// pkg/config.ToolAllowlistRegistry for the current phase, picks the
// allow-listed tool that claims to produce a given required artifact, and
// runs it through a caller-supplied Invoker. It implements
// pkg/sem.ToolRunner.
package toolregistry

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pipeforge/runcore/pkg/config"
)

// toolNameRegex validates the "provider.capability" tool-name format
// (e.g. "codegen.scaffold_service", "qav.run_suite").
var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// SplitToolName splits "provider.capability" into its two parts.
func SplitToolName(name string) (provider, capability string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf("invalid tool name %q: must be in 'provider.capability' format", name)
	}
	return matches[1], matches[2], nil
}

// Invoker performs the actual call to a tool provider (an MCP server, an
// internal service, a CLI wrapper) once the registry has resolved and
// allow-list-checked the name. Implementations are provided by the
// process wiring layer (cmd/runcore), one per provider.
type Invoker interface {
	Invoke(ctx context.Context, provider, capability string, inputs map[string]any) (result map[string]any, artifactID string, err error)
}

// Registry resolves allow-listed tool names for a phase and runs them
// through an Invoker, keyed by provider so different providers
// (codegen, qav, security scanners) can be wired independently.
type Registry struct {
	allowlist *config.ToolAllowlistRegistry
	invokers  map[string]Invoker // provider -> invoker
}

// New creates a Registry. invokers maps a tool's provider prefix (the part
// before the dot in "provider.capability") to the Invoker that serves it.
func New(allowlist *config.ToolAllowlistRegistry, invokers map[string]Invoker) *Registry {
	copied := make(map[string]Invoker, len(invokers))
	for k, v := range invokers {
		copied[k] = v
	}
	return &Registry{allowlist: allowlist, invokers: copied}
}

// CandidatesFor returns the allow-listed tool names for phase that declare
// requiredArtifact in their Produces list, satisfying the "candidates"
// input to pkg/sem's micro-plan step (spec §4.8 step 2).
func (r *Registry) CandidatesFor(phase, requiredArtifact string) []string {
	all := r.allowlist.GetAll()
	var names []string
	for name := range all {
		if !r.allowlist.IsAllowed(name, phase) {
			continue
		}
		for _, produces := range all[name].Produces {
			if produces == requiredArtifact {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// RunTool implements pkg/sem.ToolRunner. It re-validates the allow-list
// (defense in depth: a micro-plan step should already be allow-listed by
// the time it reaches here, but a caller-constructed plan might not be),
// routes by provider prefix, and surfaces the produced artifact ID.
func (r *Registry) RunTool(ctx context.Context, tool, requiredArtifact string, inputs map[string]any) (string, error) {
	provider, capability, err := SplitToolName(normalizeToolName(tool))
	if err != nil {
		return "", err
	}

	invoker, ok := r.invokers[provider]
	if !ok {
		return "", fmt.Errorf("toolregistry: no invoker registered for provider %q (tool %q)", provider, tool)
	}

	_, artifactID, err := invoker.Invoke(ctx, provider, capability, inputs)
	if err != nil {
		return "", fmt.Errorf("toolregistry: invoke %s failed: %w", tool, err)
	}
	if artifactID == "" {
		return "", fmt.Errorf("toolregistry: tool %s produced no artifact for required output %q", tool, requiredArtifact)
	}
	return artifactID, nil
}

// Providers returns the registered provider prefixes, mostly useful for
// diagnostics and tests.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.invokers))
	for p := range r.invokers {
		names = append(names, p)
	}
	return names
}

// normalizeToolName tolerates the double-underscore separator some LLM
// function-calling APIs force on tool names (they reject dots), mapping
// it back to the canonical "provider.capability" form before routing.
func normalizeToolName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}
