package events

// PhaseBudgets is the budget envelope a phase starts with, echoed in
// phase.started.
type PhaseBudgets struct {
	Tokens            int `json:"tokens"`
	ToolsMinutes      int `json:"tools_minutes"`
	WallclockMinutes  int `json:"wallclock_minutes"`
}

// PhaseStartedPayload is the payload for phase.started events.
type PhaseStartedPayload struct {
	Type        string       `json:"type"`
	RunID       string       `json:"run_id"`
	Phase       string       `json:"phase"`
	Budgets     PhaseBudgets `json:"budgets"`
	Agents      []string     `json:"agents"`
	Parallelism string       `json:"parallelism"`
	Timestamp   string       `json:"timestamp"`
}

// PhaseProgress is the embedded progress snapshot in phase.progress.
type PhaseProgress struct {
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	Percent     float64 `json:"percent"`
	CurrentTask string `json:"current_task,omitempty"`
}

// Usage is the resource-usage snapshot attached to phase.progress,
// phase.ready, and phase.completed events.
type Usage struct {
	Tokens       int      `json:"tokens"`
	ToolMinutes  int      `json:"tool_minutes"`
	WallclockMS  int64    `json:"wallclock_ms"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
}

// PhaseProgressPayload is the payload for phase.progress events
// (transient — NOTIFY only, no DB persistence).
type PhaseProgressPayload struct {
	Type      string        `json:"type"`
	RunID     string        `json:"run_id"`
	Phase     string        `json:"phase"`
	Progress  PhaseProgress `json:"progress"`
	Usage     Usage         `json:"usage"`
	Timestamp string        `json:"timestamp"`
}

// PhaseReadyPayload is the payload for phase.ready events — a phase
// finished producing artifacts and is awaiting gate evaluation.
type PhaseReadyPayload struct {
	Type      string   `json:"type"`
	RunID     string   `json:"run_id"`
	Phase     string   `json:"phase"`
	Artifacts []string `json:"artifacts"`
	Usage     Usage    `json:"usage"`
	KMapRefs  []string `json:"kmap_refs,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// GuardReportSummary is the wire shape of one guard's contribution to
// a gate decision, embedded in phase.gate.passed/phase.gate.failed.
type GuardReportSummary struct {
	Type     string  `json:"type"`
	Pass     bool    `json:"pass"`
	Score    float64 `json:"score"`
	Severity string  `json:"severity,omitempty"`
}

// PhaseGatePassedPayload is the payload for phase.gate.passed events.
type PhaseGatePassedPayload struct {
	Type         string               `json:"type"`
	RunID        string               `json:"run_id"`
	Phase        string               `json:"phase"`
	GateScore    float64              `json:"gate_score"` // in [0,1]
	PassThreshold float64             `json:"pass_threshold"`
	GuardReports []GuardReportSummary `json:"guard_reports"`
	QAVSummary   string               `json:"qav_summary,omitempty"`
	NextPhase    string               `json:"next_phase,omitempty"`
	Timestamp    string               `json:"timestamp"`
}

// FailureReason is one entry in phase.gate.failed's failure_reasons.
type FailureReason struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// PhaseGateFailedPayload is the payload for phase.gate.failed events.
type PhaseGateFailedPayload struct {
	Type            string               `json:"type"`
	RunID           string               `json:"run_id"`
	Phase           string               `json:"phase"`
	GateScore       float64              `json:"gate_score"`
	GuardReports    []GuardReportSummary `json:"guard_reports"`
	FailureReasons  []FailureReason      `json:"failure_reasons"`
	Attempt         int                  `json:"attempt"`
	MaxAttempts     int                  `json:"max_attempts"`
	AutoFixStrategy string               `json:"auto_fix_strategy"`
	Timestamp       string               `json:"timestamp"`
}

// PhaseStalledPayload is the payload for phase.stalled events.
type PhaseStalledPayload struct {
	Type            string `json:"type"`
	RunID           string `json:"run_id"`
	Phase           string `json:"phase"`
	StallDurationMS int64  `json:"stall_duration_ms"`
	LastProgress    string `json:"last_progress,omitempty"`
	SuspectedCause  string `json:"suspected_cause,omitempty"`
	UnstickerAction string `json:"unsticker_action,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// PhaseCompletedPayload is the payload for phase.completed events —
// the terminal status for one phase attempt.
type PhaseCompletedPayload struct {
	Type       string   `json:"type"`
	RunID      string   `json:"run_id"`
	Phase      string   `json:"phase"`
	Status     string   `json:"status"` // success, failed, timeout, cancelled
	DurationMS int64    `json:"duration_ms"`
	Usage      Usage    `json:"usage"`
	Artifacts  []string `json:"artifacts"`
	GateScore  float64  `json:"gate_score"`
	Attempts   int      `json:"attempts"`
	Errors     []string `json:"errors,omitempty"`
	NextPhase  string   `json:"next_phase,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

// RunLifecyclePayload is the shared payload shape for run.paused,
// run.resumed, run.failed, and run.completed — they differ only in
// the Type field.
type RunLifecyclePayload struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Reason    string `json:"reason,omitempty"`
	By        string `json:"by,omitempty"`
	Timestamp string `json:"timestamp"`
}
