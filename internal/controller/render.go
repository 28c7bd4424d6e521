package controller

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	m "gloom.dev/pkg/gloom/internal/model"
	"golang.org/x/exp/slices"
)

var (
	passedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	erroredStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	skippedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	unresolvedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Underline(true)
	warningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	faintStyle      = lipgloss.NewStyle().Faint(true)
	headerStyle     = lipgloss.NewStyle().Bold(true)
)

func statusStyle(status m.Status) lipgloss.Style {
	switch status {
	case m.Passed:
		return passedStyle
	case m.Failed:
		return failedStyle
	case m.Errored:
		return erroredStyle
	case m.Skipped:
		return skippedStyle
	default:
		return unresolvedStyle
	}
}

func formatStatus(status m.Status) string {
	return statusStyle(status).Render(status.String())
}

func formatReport(report m.TestReport) string {
	line := fmt.Sprintf("%-9s %s -> %s (%s)",
		report.Phase, report.Test, formatStatus(report.Status), report.Duration.Round(time.Millisecond))

	if report.Summary != "" && report.Status != m.Passed {
		line += "\n          " + faintStyle.Render(report.Summary)
	}

	return line
}

func formatReplayHeader(report m.TestReport, ref m.CheckpointRef) string {
	origin := "new"
	if ref.Reused {
		origin = "reused"
	}

	return headerStyle.Render(fmt.Sprintf("=== replay %s (%s checkpoint %s)", report.Test, origin, ref.Path))
}

func formatWarning(message string) string {
	return warningStyle.Render("warning: ") + message
}

// renderSummaryTable renders the per-status counts of a run.
func renderSummaryTable(result m.RunResult) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Status", "Tests"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	rows := []struct {
		status m.Status
		count  int
	}{
		{m.Passed, result.Passed},
		{m.Failed, result.Failed},
		{m.Errored, result.Errored},
		{m.Skipped, result.Skipped},
		{m.Unresolved, result.Unresolved},
	}

	for _, row := range rows {
		table.Append([]string{row.status.String(), fmt.Sprintf("%d", row.count)})
	}

	table.SetFooter([]string{"Total", fmt.Sprintf("%d", result.Total())})
	table.Render()

	return tableBuffer.String()
}

// renderCheckpointTable renders checkpoint references sorted by package and
// test.
func renderCheckpointTable(refs []m.CheckpointRef) string {
	sorted := slices.Clone(refs)
	slices.SortFunc(sorted, func(a, b m.CheckpointRef) bool {
		if a.Package != b.Package {
			return a.Package < b.Package
		}

		return a.Test < b.Test
	})

	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Package", "Test", "Fingerprint", "Reused", "Path"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	for _, ref := range sorted {
		reused := ""
		if ref.Reused {
			reused = "yes"
		}

		table.Append([]string{ref.Package, ref.Test, ref.Fingerprint.Short(), reused, string(ref.Path)})
	}

	table.Render()

	return tableBuffer.String()
}

// renderSummary renders everything printed at the end of a run.
func renderSummary(result m.RunResult) string {
	var b strings.Builder

	switch {
	case result.NoTests:
		b.WriteString("no tests found\n")
		return b.String()
	case result.FilterMatchedNothing:
		b.WriteString("no tests matched the filter\n")
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(renderSummaryTable(result))

	if len(result.Checkpoints) > 0 {
		b.WriteString("\nCheckpoints:\n")
		b.WriteString(renderCheckpointTable(result.Checkpoints))
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(&b, "\n%s\n", warningStyle.Render(fmt.Sprintf("%d warning(s)", len(result.Warnings))))
	}

	fmt.Fprintf(&b, "\nrun %s: %s\n", result.RunID, resultVerdict(result))

	return b.String()
}

func resultVerdict(result m.RunResult) string {
	if result.Success() {
		return passedStyle.Render("ok")
	}

	return failedStyle.Render("FAILED")
}

func renderTests(tests []m.TestCase) string {
	var b strings.Builder

	for _, test := range tests {
		b.WriteString(test.String())
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%d test(s)\n", len(tests))

	return b.String()
}

func renderCheckpoints(refs []m.CheckpointRef) string {
	if len(refs) == 0 {
		return "no checkpoints stored\n"
	}

	return renderCheckpointTable(refs) + fmt.Sprintf("\n%d checkpoint(s)\n", len(refs))
}
