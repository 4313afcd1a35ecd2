package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cratemap/cratemap/pkg/pipeline"
)

var (
	colorCyan   = lipgloss.Color("36")  // Teal - headings
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - skipped
	colorRed    = lipgloss.Color("167") // Soft red - failures
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleError   = lipgloss.NewStyle().Foreground(colorRed)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
)

// printSuccess prints a success message.
func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleSuccess.Render(iconSuccess) + " " + msg)
}

// printDetail prints a detail line (indented).
func printDetail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println("  " + styleDim.Render(msg))
}

// jobLine renders one job result for the run summary.
func jobLine(j pipeline.JobResult) string {
	var icon string
	switch j.State {
	case pipeline.StateIngested:
		icon = styleSuccess.Render(iconSuccess)
	case pipeline.StateSkipped:
		icon = styleWarning.Render(iconWarning)
	case pipeline.StateFailed:
		icon = styleError.Render(iconError)
	default:
		icon = styleDim.Render(iconInfo)
	}

	line := fmt.Sprintf("%s %s %s", icon, j.Package, styleDim.Render(j.State.String()))
	if j.Duration > 0 {
		line += " " + styleDim.Render(j.Duration.Round(time.Millisecond).String())
	}
	if j.Reason != "" {
		line += "\n    " + styleDim.Render(j.Reason)
	}
	return line
}

// printSummary renders the per-job outcome and totals of a finished run.
func printSummary(report *pipeline.Report) {
	fmt.Println(styleTitle.Render("Run " + report.RunID))
	for _, j := range report.Jobs {
		fmt.Println("  " + jobLine(j))
	}

	ingested, failed, skipped := report.Counts()
	totals := fmt.Sprintf("%d ingested · %d failed · %d skipped · %s",
		ingested, failed, skipped,
		report.Finished.Sub(report.Started).Round(time.Millisecond))
	fmt.Println("  " + styleDim.Render(totals))
}
