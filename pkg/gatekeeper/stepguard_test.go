package gatekeeper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArtifactReader struct {
	content map[string]string
	err     error
}

func (f *fakeArtifactReader) ReadArtifact(ctx context.Context, artifactID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.content[artifactID], nil
}

type fakeScanner struct {
	findings []string
	err      error
}

func (f *fakeScanner) Scan(ctx context.Context, artifactIDs []string) ([]string, error) {
	return f.findings, f.err
}

func TestArtifactStepGuard_PassesOnSufficientContentAndNoFindings(t *testing.T) {
	reader := &fakeArtifactReader{content: map[string]string{"a1": longContent()}}
	g := &ArtifactStepGuard{Reader: reader, Scanner: &fakeScanner{}}

	pass, reasons, err := g.CheckStep(context.Background(), "a1", map[string]float64{"completeness": 0.7})
	require.NoError(t, err)
	assert.True(t, pass)
	assert.Empty(t, reasons)
}

func TestArtifactStepGuard_FailsOnThinContent(t *testing.T) {
	reader := &fakeArtifactReader{content: map[string]string{"a1": "too short"}}
	g := &ArtifactStepGuard{Reader: reader}

	pass, reasons, err := g.CheckStep(context.Background(), "a1", map[string]float64{"completeness": 0.7})
	require.NoError(t, err)
	assert.False(t, pass)
	assert.NotEmpty(t, reasons)
}

func TestArtifactStepGuard_FailsOnPIIFinding(t *testing.T) {
	reader := &fakeArtifactReader{content: map[string]string{"a1": longContent()}}
	g := &ArtifactStepGuard{Reader: reader, Scanner: &fakeScanner{findings: []string{"ssn detected"}}}

	pass, reasons, err := g.CheckStep(context.Background(), "a1", map[string]float64{"completeness": 0.5})
	require.NoError(t, err)
	assert.False(t, pass)
	assert.Contains(t, reasons, "ssn detected")
}

func TestArtifactStepGuard_PropagatesReaderError(t *testing.T) {
	reader := &fakeArtifactReader{err: assert.AnError}
	g := &ArtifactStepGuard{Reader: reader}

	_, _, err := g.CheckStep(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func longContent() string {
	s := ""
	for len(s) < fullCreditLength {
		s += "well-grounded step output with enough detail. "
	}
	return s
}
