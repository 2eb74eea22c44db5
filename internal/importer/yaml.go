package importer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deadlinecal/deadlinecal/internal/core"
)

// yamlFile is the document layout:
//
//	deadlines:
//	  - id: CM1-X1-2026
//	    title: CM1 X1 deadline
//	    due: 2026-01-15
//	    category: CM1
//	    recommended: 2026-01-08
type yamlFile struct {
	Deadlines []yamlDeadline `yaml:"deadlines"`
}

type yamlDeadline struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Due         string `yaml:"due"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Recommended string `yaml:"recommended"`
}

// ParseYAML reads a deadlines document. Due values are a bare date or an
// RFC 3339 timestamp. Entries missing an id, title or due value are skipped.
func ParseYAML(src io.Reader) (Result, error) {
	var result Result
	if src == nil {
		return result, errors.New("yaml source is nil")
	}

	var file yamlFile
	decoder := yaml.NewDecoder(src)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		return result, fmt.Errorf("decode yaml deadlines: %w", err)
	}

	for i, entry := range file.Deadlines {
		line := i + 1
		id := strings.TrimSpace(entry.ID)
		title := strings.TrimSpace(entry.Title)
		if id == "" || title == "" {
			result.Skipped = append(result.Skipped, SkippedRow{Line: line, Reason: "id and title are required"})
			continue
		}

		due, allDay, err := core.ParseDue(entry.Due)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedRow{Line: line, Reason: fmt.Sprintf("invalid due value %q", entry.Due)})
			continue
		}

		d := core.Deadline{
			ID:          id,
			Title:       title,
			Due:         due,
			AllDay:      allDay,
			Description: strings.TrimSpace(entry.Description),
			Category:    core.NormalizeCategory(entry.Category),
			Active:      true,
		}

		if value := strings.TrimSpace(entry.Recommended); value != "" {
			recommended, err := time.Parse(core.DateLayout, value)
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
