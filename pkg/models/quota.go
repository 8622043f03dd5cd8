package models

import "time"

// TenantQuota is a tenant's mutable resource ceiling.
type TenantQuota struct {
	TenantID             string
	MaxCPUCores          float64
	MaxMemoryGB          float64
	MaxStorageGB         float64
	MaxTokensPerDay      int
	MaxCostPerDayUSD     float64
	MaxGPUs              int
	MaxConcurrentRuns    int
	BurstCPUCores        float64
	BurstMemoryGB        float64
	BurstDurationMinutes int
	ThrottleEnabled      bool
	ThrottleThreshold    float64 // strictly < 1
	Tier                 string
}

// UsageRecord is one append-only usage row.
type UsageRecord struct {
	TenantID     ResourceKey
	ResourceType ResourceType
	Amount       float64
	Unit         string
	At           time.Time
	RunID        string
	TaskID       string
}

// ResourceKey is just a tenant id; a distinct type documents intent at
// call sites that key maps by (tenant, resource).
type ResourceKey = string

// QuotaCheckResult is the outcome of Enforcer.CheckQuota.
type QuotaCheckResult struct {
	Allowed      bool
	CurrentUsage float64
	Quota        float64
	PercentUsed  float64
	BurstAllowed bool
}

// QuotaViolationSeverity classifies an overage by percent (spec §4.5).
type QuotaViolationSeverity string

const (
	ViolationLow      QuotaViolationSeverity = "low"
	ViolationMedium   QuotaViolationSeverity = "medium"
	ViolationHigh     QuotaViolationSeverity = "high"
	ViolationCritical QuotaViolationSeverity = "critical"
)

// SeverityForOverage classifies overage-percent into a violation severity.
func SeverityForOverage(overagePercent float64) QuotaViolationSeverity {
	switch {
	case overagePercent >= 50:
		return ViolationCritical
	case overagePercent >= 25:
		return ViolationHigh
	case overagePercent >= 10:
		return ViolationMedium
	default:
		return ViolationLow
	}
}

// QuotaViolation is a recorded overage or burst-allowed admission.
type QuotaViolation struct {
	ID              string
	TenantID        string
	ResourceType    ResourceType
	RequestedAmount float64
	QuotaAmount     float64
	OveragePercent  float64
	Severity        QuotaViolationSeverity
	Action          string // rejected | burst_allowed | throttled
	Resolved        bool
	CreatedAt       time.Time
}
