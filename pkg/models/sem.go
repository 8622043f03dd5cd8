package models

import "time"

// BlockedStepContext is the frozen state SEM snapshots when it claims a
// stalled or failing task.
type BlockedStepContext struct {
	RunID             string
	Phase             string
	TaskID            string
	Trigger           SEMTrigger
	TriggerDetails    string
	RequiredArtifacts []string
	Inputs            map[string]any
	RemainingBudget   TaskBudget
	AllowlistedTools  []string
	GateRubrics       map[string]float64 // guard name -> min acceptable score
}

// MicroPlanStep assigns one allow-listed tool to produce one required
// artifact, with explicit pass criteria.
type MicroPlanStep struct {
	RequiredArtifact string
	Tool             string
	PassCriteria     map[string]float64
}

// SEMIntervention is one Self-Execution Mode event.
type SEMIntervention struct {
	ID              string
	RunID           string
	Phase           string
	TaskID          string
	Trigger         SEMTrigger
	OriginalDoer    string
	ContextSnapshot BlockedStepContext
	MicroPlan       []MicroPlanStep
	ClaimedAt       time.Time
	CompletedAt     *time.Time
	Status          SEMStatus
	ToolsUsed       []string
	GateScore       *float64
}
