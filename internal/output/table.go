package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/deadlinecal/deadlinecal/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatDeadlines renders one row per deadline.
func (f *TableFormatter) FormatDeadlines(deadlines []core.Deadline) (string, error) {
	t := deadlineTable(deadlines)
	t.SetStyle(table.StyleRounded)
	return t.Render(), nil
}

// FormatImport renders the import counts and any skipped rows.
func (f *TableFormatter) FormatImport(report ImportReport) (string, error) {
	t := importTable(report)
	t.SetStyle(table.StyleRounded)
	rendered := t.Render()

	if len(report.Skipped) > 0 {
		skipped := skippedTable(report)
		skipped.SetStyle(table.StyleRounded)
		rendered += "\n" + skipped.Render()
	}
	return rendered, nil
}

func deadlineTable(deadlines []core.Deadline) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Group", "Title", "Due", "Recommended"})
	for _, d := range deadlines {
		t.AppendRow(table.Row{d.ID, d.Category, d.Title, d.DueString(), recommended(d)})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d deadlines", len(deadlines)), ""})
	return t
}

func importTable(report ImportReport) table.Writer {
	t := table.NewWriter()
	title := fmt.Sprintf("%s (%s)", report.Source, report.Format)
	if report.DryRun {
		title += " dry run"
	}
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Parsed", "Inserted", "Updated", "Unchanged", "Deactivated", "Skipped"})
	t.AppendRow(table.Row{report.Parsed, report.Inserted, report.Updated, report.Unchanged, report.Deactivated, len(report.Skipped)})
	return t
}

func skippedTable(report ImportReport) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Line", "Reason"})
	for _, row := range report.Skipped {
		t.AppendRow(table.Row{row.Line, row.Reason})
	}
	return t
}
