package models

import "time"

// BudgetEventType is the threshold that fired (spec §4.6).
type BudgetEventType string

const (
	BudgetEventWarn     BudgetEventType = "warn"
	BudgetEventThrottle BudgetEventType = "throttle"
	BudgetEventPause    BudgetEventType = "pause"
	BudgetEventPreempt  BudgetEventType = "preempt"
)

// BudgetEvent is persisted whenever a Budget Guard threshold fires.
type BudgetEvent struct {
	ID                        string
	RunID                     string
	TenantID                  string
	Total                     float64
	Spent                     float64
	Remaining                 float64
	PercentUsed               float64
	EventType                 BudgetEventType
	Threshold                 float64
	Action                    string
	TasksAffected             []string
	PriorityClassesPreempted  []PriorityClass
	CreatedAt                 time.Time
}

// PreemptionRecord is appended to preemption_history on every preemption.
type PreemptionRecord struct {
	ID            string
	RunID         string
	TaskID        string
	Reason        string // cost | cpu | memory | budget | quota
	ResourceType  string
	Threshold     float64
	PriorityClass PriorityClass
	CheckpointID  string
	CreatedAt     time.Time
}
