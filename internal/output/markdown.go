package output

import (
	"github.com/deadlinecal/deadlinecal/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatDeadlines renders a deadline list as a markdown table.
func (f *MarkdownFormatter) FormatDeadlines(deadlines []core.Deadline) (string, error) {
	return deadlineTable(deadlines).RenderMarkdown(), nil
}

// FormatImport renders an import report as markdown.
func (f *MarkdownFormatter) FormatImport(report ImportReport) (string, error) {
	rendered := importTable(report).RenderMarkdown()
	if len(report.Skipped) > 0 {
		rendered += "\n\n" + skippedTable(report).RenderMarkdown()
	}
	return rendered, nil
}
