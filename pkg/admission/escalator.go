package admission

import (
	"context"
	"fmt"

	"github.com/pipeforge/runcore/pkg/models"
)

// SEMDriver is Self-Execution Mode's four lifecycle calls, in order.
// Satisfied by *pkg/sem.SEM.
type SEMDriver interface {
	Claim(ctx context.Context, blocked models.BlockedStepContext, originalDoer string) (*models.SEMIntervention, error)
	Plan(blocked models.BlockedStepContext) ([]models.MicroPlanStep, error)
	Execute(ctx context.Context, intervention *models.SEMIntervention, plan []models.MicroPlanStep) ([]string, error)
	ValidateAndHandBack(ctx context.Context, intervention *models.SEMIntervention, pack *models.EvidencePack) (handedBack bool, hints []string, err error)
}

// Escalator composes SEMDriver's Claim/Plan/Execute/ValidateAndHandBack
// lifecycle into pkg/coordinator.SEMEscalator's single Escalate call — the
// shape the Phase Coordinator needs once a doer-replaceable task exhausts
// its retries (spec §4.2 step 4, §4.8).
type Escalator struct {
	sem SEMDriver
}

// NewEscalator creates an Escalator over sem.
func NewEscalator(sem SEMDriver) *Escalator {
	return &Escalator{sem: sem}
}

// Escalate implements pkg/coordinator.SEMEscalator.
func (e *Escalator) Escalate(ctx context.Context, blocked models.BlockedStepContext, originalDoer string) (*models.TaskResult, error) {
	intervention, err := e.sem.Claim(ctx, blocked, originalDoer)
	if err != nil {
		return nil, fmt.Errorf("admission: sem claim: %w", err)
	}

	plan, err := e.sem.Plan(blocked)
	if err != nil {
		return nil, fmt.Errorf("admission: sem plan: %w", err)
	}

	artifactIDs, err := e.sem.Execute(ctx, intervention, plan)
	if err != nil {
		return nil, fmt.Errorf("admission: sem execute: %w", err)
	}

	pack := &models.EvidencePack{
		RunID:       blocked.RunID,
		Phase:       blocked.Phase,
		ArtifactIDs: artifactIDs,
	}

	handedBack, hints, err := e.sem.ValidateAndHandBack(ctx, intervention, pack)
	if err != nil {
		return nil, fmt.Errorf("admission: sem validate: %w", err)
	}
	if handedBack {
		return nil, fmt.Errorf("admission: sem handed step for task %s back to %s: %v", blocked.TaskID, originalDoer, hints)
	}

	result := &models.TaskResult{
		OK:          true,
		Artifacts:   artifactsFrom(artifactIDs),
		ExecutionID: intervention.ID,
	}
	if intervention.CompletedAt != nil {
		result.Metrics.DurationMS = intervention.CompletedAt.Sub(intervention.ClaimedAt).Milliseconds()
	}
	return result, nil
}

// artifactsFrom wraps SEM-produced artifact IDs as Artifact stubs: the
// micro-plan's ToolRunner only returns an ID, not the full artifact
// metadata, so that's all Escalate has to report back to the Coordinator.
func artifactsFrom(ids []string) []models.Artifact {
	artifacts := make([]models.Artifact, 0, len(ids))
	for _, id := range ids {
		artifacts = append(artifacts, models.Artifact{ID: id})
	}
	return artifacts
}
