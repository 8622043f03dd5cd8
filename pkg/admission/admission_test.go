package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeforge/runcore/pkg/models"
)

type fakeRunLookup struct {
	run *models.Run
	err error
}

func (f *fakeRunLookup) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return f.run, f.err
}

type fakeScheduler struct {
	frozen map[string]bool
}

func (f *fakeScheduler) IsFrozen(runID string) bool { return f.frozen[runID] }

type fakeQuota struct {
	allowed map[models.ResourceType]bool
	err     error
}

func (f *fakeQuota) EnforceQuota(ctx context.Context, tenantTier, tenantID string, resource models.ResourceType, amount float64) (*models.QuotaCheckResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.QuotaCheckResult{Allowed: f.allowed[resource]}, nil
}

func TestGate_Admit_RejectsWhenRunFrozen(t *testing.T) {
	g := New(&fakeRunLookup{}, &fakeScheduler{frozen: map[string]bool{"run-1": true}}, nil, "standard")

	admitted, err := g.Admit(context.Background(), &models.TaskSpec{RunID: "run-1"})
	require.NoError(t, err)
	assert.False(t, admitted)
}

func TestGate_Admit_NoQuotaEnforcerAdmitsWhenUnfrozen(t *testing.T) {
	g := New(&fakeRunLookup{}, &fakeScheduler{frozen: map[string]bool{}}, nil, "standard")

	admitted, err := g.Admit(context.Background(), &models.TaskSpec{RunID: "run-1"})
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestGate_Admit_RejectsOverTokenQuota(t *testing.T) {
	g := New(
		&fakeRunLookup{run: &models.Run{ID: "run-1", TenantID: "tenant-1"}},
		&fakeScheduler{frozen: map[string]bool{}},
		&fakeQuota{allowed: map[models.ResourceType]bool{models.ResourceCost: true}},
		"standard",
	)

	task := &models.TaskSpec{RunID: "run-1", Budget: models.TaskBudget{Tokens: 5000, USD: 1}}
	admitted, err := g.Admit(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, admitted)
}

func TestGate_Admit_AdmitsWithinQuota(t *testing.T) {
	g := New(
		&fakeRunLookup{run: &models.Run{ID: "run-1", TenantID: "tenant-1"}},
		&fakeScheduler{frozen: map[string]bool{}},
		&fakeQuota{allowed: map[models.ResourceType]bool{models.ResourceTokens: true, models.ResourceCost: true}},
		"standard",
	)

	task := &models.TaskSpec{RunID: "run-1", Budget: models.TaskBudget{Tokens: 500, USD: 0.1}}
	admitted, err := g.Admit(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestGate_Admit_PropagatesRunLookupError(t *testing.T) {
	g := New(&fakeRunLookup{err: assert.AnError}, &fakeScheduler{frozen: map[string]bool{}}, &fakeQuota{}, "standard")

	_, err := g.Admit(context.Background(), &models.TaskSpec{RunID: "run-1", Budget: models.TaskBudget{Tokens: 1}})
	assert.Error(t, err)
}
