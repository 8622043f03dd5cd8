// Package metrics exposes the orchestrator core's Prometheus metrics.
//
// Endpoint: GET /metrics, served by cmd/runcore alongside the HTTP API.
// All metrics are registered on a dedicated prometheus.Registry rather
// than the global default registry, to keep the exposition surface
// self-contained.
//
// Metric naming convention: runcore_<subsystem>_<name>_<unit>.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds every metric descriptor the orchestrator core emits and
// is the single injection point components reach for when they need to
// record an observation. One Recorder is constructed at startup and
// threaded through the coordinator, scheduler, dispatcher, gatekeeper,
// budget guard, and quota enforcer.
type Recorder struct {
	registry *prometheus.Registry

	// ─── Runs ─────────────────────────────────────────────────────────────

	RunsStartedTotal   *prometheus.CounterVec // labels: tenant_id
	RunsCompletedTotal *prometheus.CounterVec // labels: tenant_id, outcome (ga|failed|cancelled)
	RunsActive         prometheus.Gauge
	RunDurationSeconds *prometheus.HistogramVec // labels: outcome

	// ─── Phases ───────────────────────────────────────────────────────────

	PhaseExecutionsTotal   *prometheus.CounterVec   // labels: phase, status
	PhaseDurationSeconds   *prometheus.HistogramVec // labels: phase
	PhaseGateScore         *prometheus.HistogramVec // labels: phase
	ActivePhaseExecutions  prometheus.Gauge

	// ─── Tasks ────────────────────────────────────────────────────────────

	TasksDispatchedTotal  *prometheus.CounterVec   // labels: phase, priority_class, type
	TasksCompletedTotal   *prometheus.CounterVec   // labels: phase, status
	TaskDurationSeconds   *prometheus.HistogramVec // labels: phase, type
	TaskQueueDepth        *prometheus.GaugeVec     // labels: priority_class
	TaskRetriesTotal      *prometheus.CounterVec   // labels: phase

	// ─── Preemption ───────────────────────────────────────────────────────

	PreemptionsTotal *prometheus.CounterVec // labels: priority_class, reason

	// ─── Gatekeeper ───────────────────────────────────────────────────────

	GateDecisionsTotal *prometheus.CounterVec // labels: phase, decision
	GuardScoreHistogram *prometheus.HistogramVec // labels: guard

	// ─── Budget ───────────────────────────────────────────────────────────

	BudgetEventsTotal     *prometheus.CounterVec // labels: event_type (warn|throttle|pause|preempt)
	BudgetPercentUsed     *prometheus.GaugeVec   // labels: run_id, resource
	CostAccruedTotalUSD   *prometheus.CounterVec // labels: tenant_id

	// ─── Quota ────────────────────────────────────────────────────────────

	QuotaViolationsTotal *prometheus.CounterVec // labels: tenant_id, resource, action
	TenantHealthScore    *prometheus.GaugeVec   // labels: tenant_id

	// ─── Self-Execution Mode ──────────────────────────────────────────────

	SEMInterventionsTotal  *prometheus.CounterVec   // labels: trigger, status
	SEMInterventionSeconds *prometheus.HistogramVec // labels: trigger

	// ─── Ledger ───────────────────────────────────────────────────────────

	LedgerEntriesAppendedTotal *prometheus.CounterVec // labels: type

	startTime time.Time
}

// New creates and registers every orchestrator-core metric on a fresh
// registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry:  reg,
		startTime: time.Now(),

		RunsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "runs", Name: "started_total",
			Help: "Total runs created, by tenant.",
		}, []string{"tenant_id"}),

		RunsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "runs", Name: "completed_total",
			Help: "Total runs that reached a terminal state, by tenant and outcome.",
		}, []string{"tenant_id", "outcome"}),

		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "runcore", Subsystem: "runs", Name: "active",
			Help: "Current number of runs not in a terminal state.",
		}),

		RunDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runcore", Subsystem: "runs", Name: "duration_seconds",
			Help:    "Wall-clock duration from run creation to terminal state.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		}, []string{"outcome"}),

		PhaseExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "phase", Name: "executions_total",
			Help: "Total phase executions, by phase and terminal status.",
		}, []string{"phase", "status"}),

		PhaseDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runcore", Subsystem: "phase", Name: "duration_seconds",
			Help:    "Phase execution duration in seconds, by phase.",
			Buckets: []float64{5, 15, 30, 60, 180, 600, 1800, 3600},
		}, []string{"phase"}),

		PhaseGateScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runcore", Subsystem: "phase", Name: "gate_score",
			Help:    "Weighted gate score distribution, by phase.",
			Buckets: []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
		}, []string{"phase"}),

		ActivePhaseExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "runcore", Subsystem: "phase", Name: "active_executions",
			Help: "Current number of phase executions in progress.",
		}),

		TasksDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "tasks", Name: "dispatched_total",
			Help: "Total tasks dispatched, by phase, priority class, and type.",
		}, []string{"phase", "priority_class", "type"}),

		TasksCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "tasks", Name: "completed_total",
			Help: "Total tasks reaching a terminal status, by phase and status.",
		}, []string{"phase", "status"}),

		TaskDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runcore", Subsystem: "tasks", Name: "duration_seconds",
			Help:    "Task execution duration in seconds, by phase and type.",
			Buckets: []float64{1, 5, 15, 30, 60, 180, 600, 1800},
		}, []string{"phase", "type"}),

		TaskQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "runcore", Subsystem: "tasks", Name: "queue_depth",
			Help: "Current number of queued tasks, by priority class.",
		}, []string{"priority_class"}),

		TaskRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "tasks", Name: "retries_total",
			Help: "Total task retry attempts, by phase.",
		}, []string{"phase"}),

		PreemptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "scheduler", Name: "preemptions_total",
			Help: "Total tasks preempted, by the preempted priority class and reason.",
		}, []string{"priority_class", "reason"}),

		GateDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "gatekeeper", Name: "decisions_total",
			Help: "Total gate decisions, by phase and decision (pass|fail|escalate).",
		}, []string{"phase", "decision"}),

		GuardScoreHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runcore", Subsystem: "gatekeeper", Name: "guard_score",
			Help:    "Individual guard score distribution, by guard name.",
			Buckets: []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
		}, []string{"guard"}),

		BudgetEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "budget", Name: "events_total",
			Help: "Total budget threshold crossings, by event type.",
		}, []string{"event_type"}),

		BudgetPercentUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "runcore", Subsystem: "budget", Name: "percent_used",
			Help: "Current fraction of budget consumed, by run and resource.",
		}, []string{"run_id", "resource"}),

		CostAccruedTotalUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "budget", Name: "cost_accrued_usd_total",
			Help: "Cumulative cost charged, by tenant, in USD.",
		}, []string{"tenant_id"}),

		QuotaViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "quota", Name: "violations_total",
			Help: "Total quota violations, by tenant, resource, and action taken.",
		}, []string{"tenant_id", "resource", "action"}),

		TenantHealthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "runcore", Subsystem: "quota", Name: "tenant_health_score",
			Help: "Current tenant health score in [0,1], by tenant.",
		}, []string{"tenant_id"}),

		SEMInterventionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "sem", Name: "interventions_total",
			Help: "Total Self-Execution Mode interventions, by trigger and outcome status.",
		}, []string{"trigger", "status"}),

		SEMInterventionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runcore", Subsystem: "sem", Name: "intervention_duration_seconds",
			Help:    "Self-Execution Mode intervention duration in seconds, by trigger.",
			Buckets: []float64{5, 15, 30, 60, 180, 600, 1800},
		}, []string{"trigger"}),

		LedgerEntriesAppendedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runcore", Subsystem: "ledger", Name: "entries_appended_total",
			Help: "Total ledger entries appended, by entry type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		r.RunsStartedTotal, r.RunsCompletedTotal, r.RunsActive, r.RunDurationSeconds,
		r.PhaseExecutionsTotal, r.PhaseDurationSeconds, r.PhaseGateScore, r.ActivePhaseExecutions,
		r.TasksDispatchedTotal, r.TasksCompletedTotal, r.TaskDurationSeconds, r.TaskQueueDepth, r.TaskRetriesTotal,
		r.PreemptionsTotal,
		r.GateDecisionsTotal, r.GuardScoreHistogram,
		r.BudgetEventsTotal, r.BudgetPercentUsed, r.CostAccruedTotalUSD,
		r.QuotaViolationsTotal, r.TenantHealthScore,
		r.SEMInterventionsTotal, r.SEMInterventionSeconds,
		r.LedgerEntriesAppendedTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return r
}

// Handler returns the HTTP handler serving this Recorder's registry in
// Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Uptime returns how long this Recorder has been running.
func (r *Recorder) Uptime() time.Duration {
	return time.Since(r.startTime)
}
