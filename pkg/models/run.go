package models

import (
	"strconv"
	"time"
)

// Budget is a Run's resource ceiling, set at creation and checked at every
// gate boundary.
type Budget struct {
	MaxCostUSD           float64
	MaxTokens            int
	MaxToolMinutes       int
	MaxWallclockMinutes  int
	MaxRetries           int
}

// Run is a single execution of the pipeline.
type Run struct {
	ID              string // ULID, time-sortable
	TenantID        string
	UserID          string
	IdeaSpecID      string
	State           RunState
	PausedFromState RunState
	PauseReason     string
	Budget          Budget
	CumulativeCostUSD float64
	CumulativeTokens  int
	RetryCount        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// PhaseExecution is one pass of one phase inside a Run.
type PhaseExecution struct {
	RunID           string
	PhaseName       string
	Attempt         int
	Status          PhaseExecutionStatus
	ParallelismMode ParallelismMode
	DurationMS      int64
	CostUSD         float64
	Tokens          int
	ToolMinutes     int
	GateScore       *float64
	StartedAt       time.Time
	CompletedAt     *time.Time
	TaskIDs         []string
	ArtifactIDs     []string
}

// ID is the composite identity of a PhaseExecution, used as a map key.
func (p PhaseExecution) ID() string {
	return p.RunID + "/" + p.PhaseName + "/" + strconv.Itoa(p.Attempt)
}
