package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/pipeforge/runcore/pkg/models"
)

const maxBlockTextLength = 2900

func runURL(dashboardURL, runID string) string {
	return fmt.Sprintf("%s/runs/%s", dashboardURL, runID)
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full timeline in dashboard)_"
}

func textSection(text string) *goslack.SectionBlock {
	return goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil)
}

func viewButton(label, url string) *goslack.ActionBlock {
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, label, false, false))
	btn.URL = url
	return goslack.NewActionBlock("", btn)
}

// buildPausedMessage reports a run paused for budget exhaustion or a
// manual-intervention auto-fix strategy (spec §4.1 paused state).
func buildPausedMessage(run *models.Run, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":double_vertical_bar: *Run paused* — %s\nPhase: `%s`", truncateForSlack(run.PauseReason), run.PausedFromState)
	return []goslack.Block{
		textSection(text),
		viewButton("Review Run", runURL(dashboardURL, run.ID)),
	}
}

// buildFailedMessage reports a run that failed out of its retry budget.
func buildFailedMessage(run *models.Run, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":x: *Run failed*\n%s", truncateForSlack(run.PauseReason))
	return []goslack.Block{
		textSection(text),
		viewButton("View Run", runURL(dashboardURL, run.ID)),
	}
}

// buildGateEscalatedMessage reports a phase gate that landed in the
// escalate band and needs a human decision (spec §4.3).
func buildGateEscalatedMessage(run *models.Run, phase string, result *models.GateResult, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(
		":warning: *Gate escalated* for phase `%s`\nScore: %.1f | Suggested fix: `%s`",
		phase, result.OverallScore, result.AutoFixStrategy,
	)
	if len(result.Reasons) > 0 {
		text += fmt.Sprintf("\n*Reasons:*\n%s", truncateForSlack(bulletJoin(result.Reasons)))
	}
	return []goslack.Block{
		textSection(text),
		viewButton("Review Gate", runURL(dashboardURL, run.ID)),
	}
}

func bulletJoin(items []string) string {
	out := ""
	for _, item := range items {
		out += "• " + item + "\n"
	}
	return out
}
