// Package gatekeeper implements the Gatekeeper (spec §4.3): it turns an
// EvidencePack into a pass/fail/escalate decision by scoring the pack's
// guard reports against a per-phase rubric and, on fail, selecting an
// auto-fix strategy.
package gatekeeper

import (
	"context"
	"fmt"
	"sort"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/metrics"
	"github.com/pipeforge/runcore/pkg/models"
)

const (
	defaultPassThreshold = 70.0
	defaultMarginError   = 10.0
)

// defaultGuardWeight is used when a guard report's type has no entry in
// the rubric: it still contributes to the score, but can never block.
const defaultGuardWeight = 1.0

// Gatekeeper evaluates EvidencePacks against a guard rubric.
type Gatekeeper struct {
	guards        *config.GuardRegistry
	passThreshold float64
	marginError   float64
	recorder      *metrics.Recorder
}

// New creates a Gatekeeper. guards may be nil (every guard then scores
// with equal weight and never blocks). passThreshold/marginError use the
// spec defaults (70, 10) when zero.
func New(guards *config.GuardRegistry, passThreshold, marginError float64, recorder *metrics.Recorder) *Gatekeeper {
	if passThreshold == 0 {
		passThreshold = defaultPassThreshold
	}
	if marginError == 0 {
		marginError = defaultMarginError
	}
	return &Gatekeeper{guards: guards, passThreshold: passThreshold, marginError: marginError, recorder: recorder}
}

// Evaluate scores pack's guard reports against the rubric and returns the
// pass/fail/escalate decision (spec §4.3).
func (g *Gatekeeper) Evaluate(ctx context.Context, pack *models.EvidencePack) (*models.GateResult, error) {
	if pack == nil {
		return nil, fmt.Errorf("gatekeeper: nil evidence pack")
	}

	var weightedSum, weightTotal float64
	var hardBlocked bool
	var reasons []string
	var blockingReports []models.GuardReport

	for _, report := range pack.GuardReports {
		weight, minScore, blocking := g.rubricFor(report.Type)

		weightedSum += weight * report.Score
		weightTotal += weight

		if blocking && (!report.Pass || report.Score < minScore) {
			hardBlocked = true
			blockingReports = append(blockingReports, report)
			reasons = append(reasons, fmt.Sprintf("%s: hard blocker (score %.2f < min %.2f or failed)", report.Type, report.Score, minScore))
		}
	}

	var overall float64
	if weightTotal > 0 {
		overall = (weightedSum / weightTotal) * 100
	}

	result := &models.GateResult{
		Phase:        pack.Phase,
		OverallScore: overall,
		GuardReports: pack.GuardReports,
		EvaluatedAt:  pack.AssembledAt,
	}

	switch {
	case hardBlocked:
		result.Decision = models.GateDecisionFail
		result.Pass = false
		result.Reasons = reasons
		result.AutoFixStrategy = selectAutoFixStrategy(blockingReports, overall, g.passThreshold)
	case overall < g.passThreshold-g.marginError:
		result.Decision = models.GateDecisionFail
		result.Pass = false
		result.Reasons = []string{fmt.Sprintf("overall score %.2f below pass threshold %.2f minus margin %.2f", overall, g.passThreshold, g.marginError)}
		result.AutoFixStrategy = selectAutoFixStrategy(lowestScoring(pack.GuardReports), overall, g.passThreshold)
	case overall >= g.passThreshold:
		result.Decision = models.GateDecisionPass
		result.Pass = true
	default:
		result.Decision = models.GateDecisionEscalate
		result.Pass = false
		result.Reasons = []string{fmt.Sprintf("overall score %.2f is below pass threshold %.2f but above the fail margin", overall, g.passThreshold)}
	}

	if g.recorder != nil {
		scores := make(map[string]float64, len(pack.GuardReports))
		for _, r := range pack.GuardReports {
			scores[r.Type] = r.Score
		}
		g.recorder.RecordGateDecision(pack.Phase, result.Decision, scores)
	}

	return result, nil
}

func (g *Gatekeeper) rubricFor(guardType string) (weight, minScore float64, blocking bool) {
	if g.guards == nil {
		return defaultGuardWeight, 0, false
	}
	rubric, err := g.guards.Get(guardType)
	if err != nil {
		return defaultGuardWeight, 0, false
	}
	return rubric.Weight, rubric.MinScore, rubric.Blocking
}

// lowestScoring returns the guard reports with the lowest score, used to
// pick an auto-fix strategy when the fail is a margin-error fail rather
// than a hard blocker.
func lowestScoring(reports []models.GuardReport) []models.GuardReport {
	if len(reports) == 0 {
		return nil
	}
	sorted := make([]models.GuardReport, len(reports))
	copy(sorted, reports)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score < sorted[j].Score })
	return sorted[:1]
}

// selectAutoFixStrategy maps the guard(s) responsible for a fail decision
// to one of the six auto-fix strategies (spec §4.3). Security and privacy
// findings route to their dedicated rerun/validation strategies;
// completeness/coverage gaps route to add-missing-agents; everything else
// falls back to the most conservative strategy for its severity.
func selectAutoFixStrategy(reports []models.GuardReport, overallScore, passThreshold float64) models.AutoFixStrategy {
	if len(reports) == 0 {
		return models.AutoFixManualIntervention
	}

	worst := reports[0]
	for _, r := range reports[1:] {
		if severityRank(r.Severity) > severityRank(worst.Severity) {
			worst = r
		}
	}

	switch worst.Type {
	case "security":
		return models.AutoFixRerunSecurity
	case "privacy":
		return models.AutoFixStricterValidation
	case "completeness", "coverage":
		return models.AutoFixAddMissingAgents
	case "contradictions", "quality", "grounding":
		return models.AutoFixRerunQAV
	}

	if severityRank(worst.Severity) >= severityRank("critical") {
		return models.AutoFixManualIntervention
	}
	if overallScore < passThreshold/2 {
		return models.AutoFixReduceScope
	}
	return models.AutoFixManualIntervention
}

func severityRank(severity string) int {
	switch severity {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}

// Select applies the Gatekeeper's tie-break rule across multiple results
// for the same phase (e.g. re-evaluations after an auto-fix retry):
// highest overall score wins; ties prefer the most recent EvidencePack;
// on an identical pack (same score, same timestamp) escalate is preferred
// over pass, to avoid silently swallowing a warning (spec §4.3).
func Select(results ...*models.GateResult) *models.GateResult {
	if len(results) == 0 {
		return nil
	}
	best := results[0]
	for _, r := range results[1:] {
		switch {
		case r.OverallScore > best.OverallScore:
			best = r
		case r.OverallScore == best.OverallScore && r.EvaluatedAt.After(best.EvaluatedAt):
			best = r
		case r.OverallScore == best.OverallScore && r.EvaluatedAt.Equal(best.EvaluatedAt):
			if r.Decision == models.GateDecisionEscalate && best.Decision == models.GateDecisionPass {
				best = r
			}
		}
	}
	return best
}
