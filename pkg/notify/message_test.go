package notify

import (
	"strings"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeforge/runcore/pkg/models"
)

func TestBuildPausedMessage(t *testing.T) {
	run := &models.Run{ID: "run-1", PausedFromState: models.RunStateBuild, PauseReason: "budget threshold exceeded"}
	blocks := buildPausedMessage(run, "https://dash.example.com")

	require.Len(t, blocks, 2)
	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, "Run paused")
	assert.Contains(t, section.Text.Text, "budget threshold exceeded")
	assert.Contains(t, section.Text.Text, string(models.RunStateBuild))

	action := blocks[1].(*goslack.ActionBlock)
	btn := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	assert.Contains(t, btn.URL, "https://dash.example.com/runs/run-1")
}

func TestBuildFailedMessage(t *testing.T) {
	run := &models.Run{ID: "run-2", PauseReason: "phase build failed after 3 attempts"}
	blocks := buildFailedMessage(run, "https://dash.example.com")

	require.Len(t, blocks, 2)
	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, ":x:")
	assert.Contains(t, section.Text.Text, "phase build failed")
}

func TestBuildGateEscalatedMessage(t *testing.T) {
	run := &models.Run{ID: "run-3"}
	result := &models.GateResult{
		OverallScore:    62.5,
		AutoFixStrategy: models.AutoFixManualIntervention,
		Reasons:         []string{"security guard hard-blocked", "completeness below threshold"},
	}
	blocks := buildGateEscalatedMessage(run, "security", result, "https://dash.example.com")

	require.Len(t, blocks, 2)
	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, "security")
	assert.Contains(t, section.Text.Text, "62.5")
	assert.Contains(t, section.Text.Text, "manual-intervention")
	assert.Contains(t, section.Text.Text, "security guard hard-blocked")
	assert.Contains(t, section.Text.Text, "completeness below threshold")
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength+100)
		result := truncateForSlack(text)
		assert.True(t, len(result) < len(text))
		assert.Contains(t, result, "truncated")
	})
}

func TestBulletJoin(t *testing.T) {
	assert.Equal(t, "• a\n• b\n", bulletJoin([]string{"a", "b"}))
}
