package toolregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeforge/runcore/pkg/config"
)

func testAllowlist() *config.ToolAllowlistRegistry {
	return config.NewToolAllowlistRegistry(map[string]*config.ToolAllowlistConfig{
		"codegen.scaffold_service": {Produces: []string{"service_skeleton"}, Phases: []string{"build"}},
		"qav.run_suite":            {Produces: []string{"qav_report"}}, // globally allowed
		"security.scan":            {Produces: []string{"security_report"}, Phases: []string{"security"}},
	})
}

func TestSplitToolName_ValidAndInvalid(t *testing.T) {
	provider, capability, err := SplitToolName("codegen.scaffold_service")
	require.NoError(t, err)
	assert.Equal(t, "codegen", provider)
	assert.Equal(t, "scaffold_service", capability)

	_, _, err = SplitToolName("not-a-tool-name")
	assert.Error(t, err)
}

func TestRegistry_CandidatesFor_FiltersByPhaseAndArtifact(t *testing.T) {
	r := New(testAllowlist(), nil)

	candidates := r.CandidatesFor("build", "service_skeleton")
	assert.Equal(t, []string{"codegen.scaffold_service"}, candidates)

	// qav.run_suite has no Phases, so it's allowed everywhere.
	candidates = r.CandidatesFor("security", "qav_report")
	assert.Equal(t, []string{"qav.run_suite"}, candidates)

	// security.scan is scoped to "security", not "build".
	candidates = r.CandidatesFor("build", "security_report")
	assert.Empty(t, candidates)
}

type fakeInvoker struct {
	artifactID string
	err        error
	calls      int
}

func (f *fakeInvoker) Invoke(ctx context.Context, provider, capability string, inputs map[string]any) (map[string]any, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return map[string]any{"ok": true}, f.artifactID, nil
}

func TestRegistry_RunTool_RoutesToProviderInvoker(t *testing.T) {
	invoker := &fakeInvoker{artifactID: "artifact-1"}
	r := New(testAllowlist(), map[string]Invoker{"codegen": invoker})

	artifactID, err := r.RunTool(context.Background(), "codegen.scaffold_service", "service_skeleton", nil)
	require.NoError(t, err)
	assert.Equal(t, "artifact-1", artifactID)
	assert.Equal(t, 1, invoker.calls)
}

func TestRegistry_RunTool_NormalizesDoubleUnderscoreSeparator(t *testing.T) {
	invoker := &fakeInvoker{artifactID: "artifact-2"}
	r := New(testAllowlist(), map[string]Invoker{"codegen": invoker})

	artifactID, err := r.RunTool(context.Background(), "codegen__scaffold_service", "service_skeleton", nil)
	require.NoError(t, err)
	assert.Equal(t, "artifact-2", artifactID)
}

func TestRegistry_RunTool_UnknownProviderFails(t *testing.T) {
	r := New(testAllowlist(), map[string]Invoker{})

	_, err := r.RunTool(context.Background(), "codegen.scaffold_service", "service_skeleton", nil)
	assert.Error(t, err)
}

func TestRegistry_RunTool_EmptyArtifactIDIsAnError(t *testing.T) {
	invoker := &fakeInvoker{artifactID: ""}
	r := New(testAllowlist(), map[string]Invoker{"codegen": invoker})

	_, err := r.RunTool(context.Background(), "codegen.scaffold_service", "service_skeleton", nil)
	assert.Error(t, err)
}
