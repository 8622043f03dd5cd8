package models

import "time"

// RetryPolicy governs how a failed Task is retried.
type RetryPolicy struct {
	MaxRetries      int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	DoerReplaceable bool // eligible for SEM hand-off after exhausting retries
}

// TaskBudget is the per-task resource ceiling enforced by the Dispatcher.
type TaskBudget struct {
	USD          float64
	Tokens       int
	ToolMinutes  int
	WallclockMS  int64
}

// TaskSpec is one agent or tool invocation, as declared by a phase manifest.
type TaskSpec struct {
	ID             string
	RunID          string
	Phase          string
	Type           TaskType
	Target         string
	Input          map[string]any
	Budget         TaskBudget
	Dependencies   []string
	IdempotenceKey string
	PriorityClass  PriorityClass
	RetryPolicy    RetryPolicy

	Status           TaskStatus
	Preempted        bool
	PreemptionCount  int
	RetryCount       int
	EnqueuedAtNanos  int64
	CostUSD          float64
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ErrorMessage     string
}

// TaskResult is the outcome of one Dispatcher invocation (spec §4.7).
type TaskResult struct {
	OK          bool
	Output      map[string]any
	Artifacts   []Artifact
	Metrics     TaskResultMetrics
	Err         error
	ExecutionID string
}

// TaskResultMetrics is the usage data attached to a TaskResult.
type TaskResultMetrics struct {
	DurationMS  int64
	Tokens      int
	ToolMinutes int
	CostUSD     float64
	RetryCount  int
}

// Artifact is any typed, immutable output.
type Artifact struct {
	ID               string
	ContentHash      string
	Type             string
	SizeBytes        int64
	StorageURI       string
	Producer         string
	When             time.Time
	InputArtifactIDs []string
	ToolVersion      string
}
