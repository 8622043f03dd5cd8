package gatekeeper

import (
	"context"
	"fmt"
	"strings"
)

// fullCreditLength is the content length (in characters) an artifact needs
// to earn a perfect content-depth score in ArtifactStepGuard.
const fullCreditLength = 200

// ArtifactReader reads back an artifact's content by ID. Satisfied by
// *pkg/entitystore.Store.
type ArtifactReader interface {
	ReadArtifact(ctx context.Context, artifactID string) (string, error)
}

// ArtifactStepGuard adapts the Gatekeeper's guard-scoring concern to
// pkg/sem.StepGuard's single-artifact check: Self-Execution Mode validates
// each micro-plan step's freshly produced artifact against named pass
// criteria (e.g. completeness >= 0.7) before moving on, rather than
// scoring a whole phase's EvidencePack the way CompletenessGuard/
// PrivacyGuard do. It scores every named criterion against the same
// content-depth proxy CompletenessGuard's fraction-based scoring uses,
// and additionally fails outright on any PII finding when Scanner is set.
type ArtifactStepGuard struct {
	Reader  ArtifactReader
	Scanner PIIScanner // optional; nil disables the PII check
}

// CheckStep implements pkg/sem.StepGuard.
func (g *ArtifactStepGuard) CheckStep(ctx context.Context, artifactID string, passCriteria map[string]float64) (bool, []string, error) {
	content, err := g.Reader.ReadArtifact(ctx, artifactID)
	if err != nil {
		return false, nil, fmt.Errorf("gatekeeper: step guard: %w", err)
	}

	score := contentDepthScore(content)
	pass := true
	var reasons []string
	for criterion, min := range passCriteria {
		if score < min {
			pass = false
			reasons = append(reasons, fmt.Sprintf("%s score %.2f below required %.2f", criterion, score, min))
		}
	}

	if g.Scanner != nil {
		findings, err := g.Scanner.Scan(ctx, []string{artifactID})
		if err != nil {
			return false, reasons, fmt.Errorf("gatekeeper: step guard pii scan: %w", err)
		}
		if len(findings) > 0 {
			pass = false
			reasons = append(reasons, findings...)
		}
	}

	return pass, reasons, nil
}

// contentDepthScore is the same fraction-of-target-length heuristic
// CompletenessGuard applies at the artifact-presence level, applied here
// at the single-artifact content level.
func contentDepthScore(content string) float64 {
	n := len(strings.TrimSpace(content))
	if n <= 0 {
		return 0
	}
	if n >= fullCreditLength {
		return 1
	}
	return float64(n) / float64(fullCreditLength)
}
