package api

import "time"

// RunResponse is returned by POST /runs and GET /runs/:id.
type RunResponse struct {
	RunID       string     `json:"run_id"`
	TenantID    string     `json:"tenant_id"`
	State       string     `json:"state"`
	PauseReason string     `json:"pause_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LedgerEntryResponse is one entry in a GET /runs/:id/ledger response.
type LedgerEntryResponse struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Sequence  int64          `json:"sequence"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Who       string         `json:"who"`
	Timestamp time.Time      `json:"timestamp"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Database *DatabaseCheck    `json:"database,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// DatabaseCheck summarizes pool connectivity for the health response.
type DatabaseCheck struct {
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	AcquiredConns  int32  `json:"acquired_conns"`
	MaxConns       int32  `json:"max_conns"`
}

// CreateRunRequest is the request body for POST /runs.
type CreateRunRequest struct {
	TenantID            string  `json:"tenant_id" binding:"required"`
	UserID              string  `json:"user_id" binding:"required"`
	IdeaSpecID          string  `json:"idea_spec_id" binding:"required"`
	MaxCostUSD          float64 `json:"max_cost_usd" binding:"required,gt=0"`
	MaxTokens           int     `json:"max_tokens" binding:"required,gt=0"`
	MaxToolMinutes      int     `json:"max_tool_minutes" binding:"required,gt=0"`
	MaxWallclockMinutes int     `json:"max_wallclock_minutes" binding:"required,gt=0"`
	MaxRetries          int     `json:"max_retries,omitempty"`
}
