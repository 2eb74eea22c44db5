package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/deadlinecal/deadlinecal/internal/core"
)

const sheetDateLayout = "02/01/2006"

// ParseTSV reads rows of module, assignment code, recommended date and
// deadline date. Dates are dd/mm/yyyy. Rows with fewer than four columns,
// an unknown module group or an unreadable deadline are skipped.
func ParseTSV(src io.Reader, opts Options) (Result, error) {
	var result Result
	if src == nil {
		return result, errors.New("tsv source is nil")
	}

	year := strings.TrimSpace(opts.AcademicYear)
	if year == "" {
		return result, errors.New("academic year is required for tsv import")
	}

	groups := make([]string, 0, len(opts.Groups))
	for _, group := range opts.Groups {
		if g := core.NormalizeCategory(group); g != "" {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return result, errors.New("at least one module group is required for tsv import")
	}

	reader := csv.NewReader(src)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read tsv: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if len(row) < 4 {
			if !blank(row) {
				result.Skipped = append(result.Skipped, SkippedRow{Line: line, Reason: "expected 4 columns"})
			}
			continue
		}

		module := strings.TrimSpace(row[0])
		code := strings.TrimSpace(row[1])
		group := matchGroup(module, groups)
		if group == "" {
			result.Skipped = append(result.Skipped, SkippedRow{Line: line, Reason: fmt.Sprintf("unknown module group for %q", module)})
			continue
		}
		if code == "" {
			result.Skipped = append(result.Skipped, SkippedRow{Line: line, Reason: "missing assignment code"})
			continue
		}

		due, err := time.Parse(sheetDateLayout, strings.TrimSpace(row[3]))
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedRow{Line: line, Reason: fmt.Sprintf("invalid deadline date %q", strings.TrimSpace(row[3]))})
			continue
		}

		d := core.Deadline{
			ID:          fmt.Sprintf("%s-%s-%s", module, code, year),
			Title:       fmt.Sprintf("%s %s deadline", module, code),
			Due:         due,
			AllDay:      true,
			Description: fmt.Sprintf("Assignment deadline for %s %s", module, code),
			Category:    group,
			Active:      true,
		}

		if value := strings.TrimSpace(row[2]); value != "" {
			recommended, err := time.Parse(sheetDateLayout, value)
			if err != nil {
				result.Skipped = append(result.Skipped, SkippedRow{Line: line, Reason: fmt.Sprintf("invalid recommended date %q", value)})
				continue
			}
			d.RecommendedDate = &recommended
		}

		result.Deadlines = append(result.Deadlines, d)
	}

	dedupe(&result)
	return result, nil
}

func matchGroup(module string, groups []string) string {
	upper := strings.ToUpper(module)
	for _, group := range groups {
		if strings.HasPrefix(upper, group) {
			return group
		}
	}
	return ""
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
