// Package importer turns deadline source files into Deadline records.
//
// Two formats are understood: the tab separated sheet exported by the
// timetabling office and a YAML list. Both produce records that the store
// can upsert directly.
package importer

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/deadlinecal/deadlinecal/internal/core"
)

// Format identifies a source file format.
type Format string

const (
	FormatTSV  Format = "tsv"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "tsv", "tab":
		return FormatTSV, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported import format: %q", value)
	}
}

// DetectFormat guesses the format from a file extension. Unknown extensions
// are treated as TSV.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTSV
	}
}

// Options controls parsing.
type Options struct {
	// AcademicYear is part of every TSV record ID.
	AcademicYear string

	// Groups are the module prefixes a TSV row must start with; the first
	// matching prefix becomes the record category.
	Groups []string
}

// SkippedRow records an input row that did not produce a record.
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (s SkippedRow) String() string {
	return fmt.Sprintf("line %d: %s", s.Line, s.Reason)
}

// Result is the outcome of parsing one source.
type Result struct {
	Deadlines []core.Deadline
	Skipped   []SkippedRow
}

// IDs returns the record IDs in input order.
func (r Result) IDs() []string {
	ids := make([]string, 0, len(r.Deadlines))
	for _, d := range r.Deadlines {
		ids = append(ids, d.ID)
	}
	return ids
}

// Parse reads src in the given format.
func Parse(src io.Reader, format Format, opts Options) (Result, error) {
	switch format {
	case FormatTSV:
		return ParseTSV(src, opts)
	case FormatYAML:
		return ParseYAML(src)
	default:
		return Result{}, fmt.Errorf("unsupported import format: %q", format)
	}
}

// dedupe keeps the last record for each ID, preserving first-seen order.
func dedupe(result *Result) {
	index := make(map[string]int, len(result.Deadlines))
	out := result.Deadlines[:0]
	for _, d := range result.Deadlines {
		if i, ok := index[d.ID]; ok {
			out[i] = d
			continue
		}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	result.Deadlines = out
}
