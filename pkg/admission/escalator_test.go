package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeforge/runcore/pkg/models"
)

type fakeSEMDriver struct {
	intervention *models.SEMIntervention
	plan         []models.MicroPlanStep
	artifactIDs  []string
	handedBack   bool
	hints        []string

	claimErr    error
	planErr     error
	executeErr  error
	validateErr error
}

func (f *fakeSEMDriver) Claim(ctx context.Context, blocked models.BlockedStepContext, originalDoer string) (*models.SEMIntervention, error) {
	return f.intervention, f.claimErr
}

func (f *fakeSEMDriver) Plan(blocked models.BlockedStepContext) ([]models.MicroPlanStep, error) {
	return f.plan, f.planErr
}

func (f *fakeSEMDriver) Execute(ctx context.Context, intervention *models.SEMIntervention, plan []models.MicroPlanStep) ([]string, error) {
	return f.artifactIDs, f.executeErr
}

func (f *fakeSEMDriver) ValidateAndHandBack(ctx context.Context, intervention *models.SEMIntervention, pack *models.EvidencePack) (bool, []string, error) {
	return f.handedBack, f.hints, f.validateErr
}

func TestEscalator_Escalate_Success(t *testing.T) {
	claimedAt := time.Now().Add(-time.Minute)
	completedAt := time.Now()
	driver := &fakeSEMDriver{
		intervention: &models.SEMIntervention{ID: "intervention-1", ClaimedAt: claimedAt, CompletedAt: &completedAt},
		artifactIDs:  []string{"artifact-1", "artifact-2"},
	}
	e := NewEscalator(driver)

	result, err := e.Escalate(context.Background(), models.BlockedStepContext{RunID: "run-1", Phase: "build"}, "agent-builder")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.OK)
	assert.Equal(t, "intervention-1", result.ExecutionID)
	require.Len(t, result.Artifacts, 2)
	assert.Equal(t, "artifact-1", result.Artifacts[0].ID)
	assert.Greater(t, result.Metrics.DurationMS, int64(0))
}

func TestEscalator_Escalate_HandedBackReturnsError(t *testing.T) {
	driver := &fakeSEMDriver{
		intervention: &models.SEMIntervention{ID: "intervention-2"},
		handedBack:   true,
		hints:        []string{"missing grounding"},
	}
	e := NewEscalator(driver)

	_, err := e.Escalate(context.Background(), models.BlockedStepContext{RunID: "run-1", TaskID: "task-1"}, "agent-builder")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "agent-builder")
}

func TestEscalator_Escalate_PropagatesClaimError(t *testing.T) {
	driver := &fakeSEMDriver{claimErr: assert.AnError}
	e := NewEscalator(driver)

	_, err := e.Escalate(context.Background(), models.BlockedStepContext{}, "agent-builder")
	assert.Error(t, err)
}
