package gatekeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/pipeforge/runcore/pkg/models"
)

// Guard evaluates one dimension of an EvidencePack and returns the guard
// report the Gatekeeper scores against the rubric (spec §4.3). Guards are
// extensible: a phase manifest names which guards apply, and the
// Coordinator runs them before assembling the EvidencePack.
type Guard interface {
	Type() string
	Evaluate(ctx context.Context, pack *models.EvidencePack) (models.GuardReport, error)
}

// Runner executes a set of Guards against a pack and appends their
// reports to it.
type Runner struct {
	guards []Guard
}

// NewRunner creates a Runner over the given guards.
func NewRunner(guards ...Guard) *Runner {
	return &Runner{guards: guards}
}

// Run evaluates every configured guard and returns their reports. It does
// not mutate pack; callers append the results to the pack's GuardReports
// before calling Gatekeeper.Evaluate.
func (r *Runner) Run(ctx context.Context, pack *models.EvidencePack) ([]models.GuardReport, error) {
	reports := make([]models.GuardReport, 0, len(r.guards))
	for _, g := range r.guards {
		report, err := g.Evaluate(ctx, pack)
		if err != nil {
			return reports, fmt.Errorf("gatekeeper: guard %s: %w", g.Type(), err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// CompletenessGuard checks that every required artifact is present in
// the pack. Score is the fraction of required artifacts actually
// produced.
type CompletenessGuard struct {
	Required []string
}

func (g *CompletenessGuard) Type() string { return "completeness" }

func (g *CompletenessGuard) Evaluate(_ context.Context, pack *models.EvidencePack) (models.GuardReport, error) {
	if len(g.Required) == 0 {
		return models.GuardReport{Type: g.Type(), Pass: true, Score: 1, Timestamp: time.Now()}, nil
	}

	present := make(map[string]bool, len(pack.ArtifactIDs))
	for _, id := range pack.ArtifactIDs {
		present[id] = true
	}

	var missing []string
	for _, id := range g.Required {
		if !present[id] {
			missing = append(missing, id)
		}
	}

	score := float64(len(g.Required)-len(missing)) / float64(len(g.Required))
	report := models.GuardReport{
		Type:      g.Type(),
		Pass:      len(missing) == 0,
		Score:     score,
		Timestamp: time.Now(),
	}
	if len(missing) > 0 {
		report.Severity = "high"
		report.Reasons = []string{fmt.Sprintf("missing %d of %d required artifacts: %v", len(missing), len(g.Required), missing)}
	}
	return report, nil
}

// PIIScanner detects unredacted personally identifiable information in a
// set of artifact contents. Implemented by pkg/masking.
type PIIScanner interface {
	Scan(ctx context.Context, artifactIDs []string) (findings []string, err error)
}

// PrivacyGuard fails when the scanner finds unredacted PII — the privacy
// guard covering PII redaction and DSAR readiness.
type PrivacyGuard struct {
	Scanner PIIScanner
}

func (g *PrivacyGuard) Type() string { return "privacy" }

func (g *PrivacyGuard) Evaluate(ctx context.Context, pack *models.EvidencePack) (models.GuardReport, error) {
	findings, err := g.Scanner.Scan(ctx, pack.ArtifactIDs)
	if err != nil {
		return models.GuardReport{}, err
	}

	report := models.GuardReport{Type: g.Type(), Timestamp: time.Now()}
	if len(findings) == 0 {
		report.Pass = true
		report.Score = 1
		return report, nil
	}

	report.Pass = false
	report.Score = 0
	report.Severity = "critical"
	report.Reasons = findings
	return report, nil
}
