// Package sem implements Self-Execution Mode (spec §4.8): when a step
// stalls or keeps failing, SEM freezes it, claims it, composes a minimal
// plan from allow-listed tools, executes that plan under guard checks,
// and either hands a passing result back to the coordinator or returns
// the blocked step to its original doer with failure hints.
package sem

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/metrics"
	"github.com/pipeforge/runcore/pkg/models"
)

const passThreshold = 70.0

// defaultPassCriteria is used for a required artifact when the blocked
// step context carries no phase-specific gate rubric for it (spec §4.8
// example: min-completeness 0.7, min-grounding 0.6).
var defaultPassCriteria = map[string]float64{
	"completeness": 0.7,
	"grounding":    0.6,
}

// InterventionRecorder persists SEMIntervention rows (claim, and the
// final completed/failed update) to the run ledger.
type InterventionRecorder interface {
	RecordIntervention(ctx context.Context, intervention models.SEMIntervention) error
}

// ToolRunner executes one allow-listed tool against a required artifact
// and returns the ID of the artifact it produced.
type ToolRunner interface {
	RunTool(ctx context.Context, tool, requiredArtifact string, inputs map[string]any) (artifactID string, err error)
}

// StepGuard checks a just-produced artifact against its pass criteria.
// A failing check aborts the micro-plan (spec §4.8 step 3).
type StepGuard interface {
	CheckStep(ctx context.Context, artifactID string, passCriteria map[string]float64) (pass bool, reasons []string, err error)
}

// GateEvaluator runs the full phase gate over the artifacts SEM produced.
// Satisfied by *pkg/gatekeeper.Gatekeeper.
type GateEvaluator interface {
	Evaluate(ctx context.Context, pack *models.EvidencePack) (*models.GateResult, error)
}

// SEM drives one Self-Execution Mode intervention end to end.
type SEM struct {
	tools      *config.ToolAllowlistRegistry
	recorder   InterventionRecorder
	toolRunner ToolRunner
	stepGuard  StepGuard
	gate       GateEvaluator
	metrics    *metrics.Recorder
}

// New creates a SEM driver.
func New(tools *config.ToolAllowlistRegistry, recorder InterventionRecorder, toolRunner ToolRunner, stepGuard StepGuard, gate GateEvaluator, m *metrics.Recorder) *SEM {
	return &SEM{tools: tools, recorder: recorder, toolRunner: toolRunner, stepGuard: stepGuard, gate: gate, metrics: m}
}

// Claim is lifecycle step 1, Snapshot & Claim: it freezes the blocked
// step, records the intervention as active, and returns it.
func (s *SEM) Claim(ctx context.Context, blocked models.BlockedStepContext, originalDoer string) (*models.SEMIntervention, error) {
	intervention := &models.SEMIntervention{
		ID:              ulid.Make().String(),
		RunID:           blocked.RunID,
		Phase:           blocked.Phase,
		TaskID:          blocked.TaskID,
		Trigger:         blocked.Trigger,
		OriginalDoer:    originalDoer,
		ContextSnapshot: blocked,
		ClaimedAt:       time.Now(),
		Status:          models.SEMStatusActive,
	}

	if s.recorder != nil {
		if err := s.recorder.RecordIntervention(ctx, *intervention); err != nil {
			return nil, fmt.Errorf("sem: record claim: %w", err)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordSEMIntervention(blocked.Trigger, models.SEMStatusActive, 0)
	}
	return intervention, nil
}

// Plan is lifecycle step 2, Micro-plan: for each required artifact it
// assigns the best available allow-listed tool for the phase that
// declares it can produce that artifact, attaches pass criteria from the
// blocked step's gate rubrics (falling back to built-in defaults), and
// stops once the remaining budget is exhausted.
func (s *SEM) Plan(blocked models.BlockedStepContext) ([]models.MicroPlanStep, error) {
	if blocked.RemainingBudget.USD <= 0 && blocked.RemainingBudget.Tokens <= 0 {
		return nil, fmt.Errorf("sem: no remaining budget to plan micro-steps for task %s", blocked.TaskID)
	}

	candidates := s.tools.ForPhase(blocked.Phase)
	sort.Strings(candidates)

	var plan []models.MicroPlanStep
	for _, artifact := range blocked.RequiredArtifacts {
		tool := s.bestToolFor(candidates, artifact, blocked.AllowlistedTools)
		if tool == "" {
			return nil, fmt.Errorf("sem: no allow-listed tool can produce required artifact %q for phase %s", artifact, blocked.Phase)
		}

		criteria := defaultPassCriteria
		if len(blocked.GateRubrics) > 0 {
			criteria = blocked.GateRubrics
		}

		plan = append(plan, models.MicroPlanStep{
			RequiredArtifact: artifact,
			Tool:             tool,
			PassCriteria:     criteria,
		})
	}
	return plan, nil
}

// bestToolFor picks the first allow-listed candidate (in the repo's
// explicit allow-list, then sorted for determinism) whose registry entry
// declares it produces artifact.
func (s *SEM) bestToolFor(candidates []string, artifact string, allowlisted []string) string {
	allowed := make(map[string]bool, len(allowlisted))
	for _, t := range allowlisted {
		allowed[t] = true
	}

	all := s.tools.GetAll()
	for _, name := range candidates {
		if len(allowlisted) > 0 && !allowed[name] {
			continue
		}
		cfg := all[name]
		if cfg == nil {
			continue
		}
		for _, produced := range cfg.Produces {
			if produced == artifact {
				return name
			}
		}
	}
	return ""
}

// Execute is lifecycle step 3: it runs each micro-plan step in order,
// checking the step guard after every tool invocation, and aborts the
// whole plan the moment one step's guard fails.
func (s *SEM) Execute(ctx context.Context, intervention *models.SEMIntervention, plan []models.MicroPlanStep) ([]string, error) {
	var artifactIDs []string

	for _, step := range plan {
		artifactID, err := s.toolRunner.RunTool(ctx, step.Tool, step.RequiredArtifact, nil)
		if err != nil {
			return artifactIDs, fmt.Errorf("sem: tool %s failed producing %s: %w", step.Tool, step.RequiredArtifact, err)
		}
		intervention.ToolsUsed = append(intervention.ToolsUsed, step.Tool)

		if s.stepGuard != nil {
			pass, reasons, err := s.stepGuard.CheckStep(ctx, artifactID, step.PassCriteria)
			if err != nil {
				return artifactIDs, fmt.Errorf("sem: guard check for %s: %w", artifactID, err)
			}
			if !pass {
				return artifactIDs, fmt.Errorf("sem: guard rejected artifact %s produced by %s: %v", artifactID, step.Tool, reasons)
			}
		}

		artifactIDs = append(artifactIDs, artifactID)
	}
	return artifactIDs, nil
}

// ValidateAndHandBack is lifecycle step 4. If pack passes the phase gate
// at or above the 70-point threshold, SEM persists the outcome and
// returns handedBack=false so the coordinator proceeds. Otherwise it
// returns handedBack=true with the gate's reasons as hints for the
// original doer's retry.
func (s *SEM) ValidateAndHandBack(ctx context.Context, intervention *models.SEMIntervention, pack *models.EvidencePack) (handedBack bool, hints []string, err error) {
	result, err := s.gate.Evaluate(ctx, pack)
	if err != nil {
		return false, nil, fmt.Errorf("sem: gate evaluation: %w", err)
	}

	now := time.Now()
	intervention.CompletedAt = &now
	score := result.OverallScore
	intervention.GateScore = &score

	if result.OverallScore >= passThreshold {
		intervention.Status = models.SEMStatusCompleted
		handedBack = false
	} else {
		intervention.Status = models.SEMStatusFailed
		handedBack = true
		hints = result.Reasons
	}

	if s.recorder != nil {
		if err := s.recorder.RecordIntervention(ctx, *intervention); err != nil {
			return handedBack, hints, fmt.Errorf("sem: record outcome: %w", err)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordSEMIntervention(intervention.Trigger, intervention.Status, time.Since(intervention.ClaimedAt))
	}
	return handedBack, hints, nil
}
