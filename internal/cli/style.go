package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/vso"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/workflow"
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#0078D4")).
	Padding(1, 5).
	MarginBottom(1).
	Align(lipgloss.Center).
	Border(lipgloss.RoundedBorder())

var summaryStyle = lipgloss.NewStyle().
	Bold(true).
	Padding(0, 2).
	MarginTop(1).
	Border(lipgloss.NormalBorder(), false, false, false, true)

// resultColors follows the task result: green, amber, red.
var resultColors = map[vso.TaskResult]lipgloss.Color{
	vso.Succeeded:           lipgloss.Color("#2E7D32"),
	vso.SucceededWithIssues: lipgloss.Color("#F9A825"),
	vso.Failed:              lipgloss.Color("#C62828"),
}

func renderSummary(s workflow.Summary) string {
	text := fmt.Sprintf("%s\n%d succeeded, %d failed, %d timed out\nrun id: %s",
		s.TaskResult, s.Succeeded, s.Failed, s.TimedOut, s.RunID)
	return summaryStyle.BorderForeground(resultColors[s.TaskResult]).Render(text)
}
