package output

import (
	"fmt"
	"strings"

	"github.com/deadlinecal/deadlinecal/internal/core"
	"github.com/deadlinecal/deadlinecal/internal/importer"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ImportReport summarizes one import run.
type ImportReport struct {
	Source      string                `json:"source"`
	Format      string                `json:"format"`
	Parsed      int                   `json:"parsed"`
	Inserted    int                   `json:"inserted"`
	Updated     int                   `json:"updated"`
	Unchanged   int                   `json:"unchanged"`
	Deactivated int64                 `json:"deactivated"`
	Skipped     []importer.SkippedRow `json:"skipped,omitempty"`
	DryRun      bool                  `json:"dry_run,omitempty"`
}

// Formatter renders command results.
type Formatter interface {
	FormatDeadlines(deadlines []core.Deadline) (string, error)
	FormatImport(report ImportReport) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func recommended(d core.Deadline) string {
	if d.RecommendedDate == nil {
		return ""
	}
	return d.RecommendedDate.Format(core.DateLayout)
}
