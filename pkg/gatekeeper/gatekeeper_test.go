package gatekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/models"
)

func testRegistry() *config.GuardRegistry {
	return config.NewGuardRegistry(map[string]*config.GuardRubricConfig{
		"completeness": {Weight: 1, MinScore: 0.5, Blocking: false},
		"security":     {Weight: 1, MinScore: 0.9, Blocking: true},
		"privacy":      {Weight: 1, MinScore: 1.0, Blocking: true},
		"quality":      {Weight: 1, MinScore: 0.0, Blocking: false},
	})
}

func TestGatekeeper_PassesWhenScoreAboveThresholdAndNoBlockers(t *testing.T) {
	gk := New(testRegistry(), 0, 0, nil)
	pack := &models.EvidencePack{
		Phase: "build",
		GuardReports: []models.GuardReport{
			{Type: "completeness", Pass: true, Score: 1.0},
			{Type: "security", Pass: true, Score: 0.95},
			{Type: "privacy", Pass: true, Score: 1.0},
			{Type: "quality", Pass: true, Score: 0.8},
		},
	}

	result, err := gk.Evaluate(context.Background(), pack)
	require.NoError(t, err)
	assert.Equal(t, models.GateDecisionPass, result.Decision)
	assert.True(t, result.Pass)
	assert.InDelta(t, 93.75, result.OverallScore, 0.01)
}

func TestGatekeeper_FailsOnHardBlockerEvenWithHighOverallScore(t *testing.T) {
	gk := New(testRegistry(), 0, 0, nil)
	pack := &models.EvidencePack{
		Phase: "build",
		GuardReports: []models.GuardReport{
			{Type: "completeness", Pass: true, Score: 1.0},
			{Type: "security", Pass: false, Score: 0.3, Severity: "critical"},
			{Type: "privacy", Pass: true, Score: 1.0},
		},
	}

	result, err := gk.Evaluate(context.Background(), pack)
	require.NoError(t, err)
	assert.Equal(t, models.GateDecisionFail, result.Decision)
	assert.Equal(t, models.AutoFixRerunSecurity, result.AutoFixStrategy)
}

func TestGatekeeper_FailsWhenScoreBelowPassThresholdMinusMargin(t *testing.T) {
	gk := New(testRegistry(), 70, 10, nil)
	pack := &models.EvidencePack{
		Phase: "build",
		GuardReports: []models.GuardReport{
			{Type: "completeness", Pass: false, Score: 0.3, Severity: "medium"},
			{Type: "quality", Pass: false, Score: 0.2, Severity: "low"},
		},
	}

	result, err := gk.Evaluate(context.Background(), pack)
	require.NoError(t, err)
	assert.Equal(t, models.GateDecisionFail, result.Decision)
}

func TestGatekeeper_EscalatesInTheMarginZone(t *testing.T) {
	gk := New(testRegistry(), 70, 10, nil)
	pack := &models.EvidencePack{
		Phase: "build",
		GuardReports: []models.GuardReport{
			{Type: "completeness", Pass: true, Score: 0.65},
			{Type: "quality", Pass: true, Score: 0.65},
		},
	}

	result, err := gk.Evaluate(context.Background(), pack)
	require.NoError(t, err)
	assert.Equal(t, models.GateDecisionEscalate, result.Decision)
	assert.False(t, result.Pass)
}

func TestSelect_PrefersHigherScore(t *testing.T) {
	a := &models.GateResult{OverallScore: 60, Decision: models.GateDecisionEscalate}
	b := &models.GateResult{OverallScore: 80, Decision: models.GateDecisionPass}
	assert.Same(t, b, Select(a, b))
}

func TestSelect_PrefersMostRecentOnEqualScore(t *testing.T) {
	now := time.Now()
	older := &models.GateResult{OverallScore: 70, EvaluatedAt: now, Decision: models.GateDecisionPass}
	newer := &models.GateResult{OverallScore: 70, EvaluatedAt: now.Add(time.Minute), Decision: models.GateDecisionPass}
	assert.Same(t, newer, Select(older, newer))
}

func TestSelect_PrefersEscalateOverPassOnIdenticalPack(t *testing.T) {
	ts := time.Now()
	pass := &models.GateResult{OverallScore: 70, EvaluatedAt: ts, Decision: models.GateDecisionPass}
	escalate := &models.GateResult{OverallScore: 70, EvaluatedAt: ts, Decision: models.GateDecisionEscalate}
	assert.Same(t, escalate, Select(pass, escalate))
}

func TestCompletenessGuard_ScoresFractionOfRequiredArtifacts(t *testing.T) {
	g := &CompletenessGuard{Required: []string{"a1", "a2", "a3", "a4"}}
	pack := &models.EvidencePack{ArtifactIDs: []string{"a1", "a2", "a3"}}

	report, err := g.Evaluate(context.Background(), pack)
	require.NoError(t, err)
	assert.False(t, report.Pass)
	assert.InDelta(t, 0.75, report.Score, 0.001)
}

type fakeScanner struct {
	findings []string
}

func (f *fakeScanner) Scan(ctx context.Context, artifactIDs []string) ([]string, error) {
	return f.findings, nil
}

func TestPrivacyGuard_FailsWhenScannerFindsPII(t *testing.T) {
	g := &PrivacyGuard{Scanner: &fakeScanner{findings: []string{"unredacted email in artifact a1"}}}
	report, err := g.Evaluate(context.Background(), &models.EvidencePack{ArtifactIDs: []string{"a1"}})
	require.NoError(t, err)
	assert.False(t, report.Pass)
	assert.Equal(t, "critical", report.Severity)
}

func TestRunner_RunsAllGuardsAndCollectsReports(t *testing.T) {
	r := NewRunner(
		&CompletenessGuard{Required: []string{"a1"}},
		&PrivacyGuard{Scanner: &fakeScanner{}},
	)

	reports, err := r.Run(context.Background(), &models.EvidencePack{ArtifactIDs: []string{"a1"}})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Pass)
	assert.True(t, reports[1].Pass)
}
