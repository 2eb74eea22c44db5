package output

import (
	"encoding/json"

	"github.com/deadlinecal/deadlinecal/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

type deadlineJSON struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Due             string `json:"due"`
	AllDay          bool   `json:"all_day"`
	Description     string `json:"description,omitempty"`
	Category        string `json:"category,omitempty"`
	RecommendedDate string `json:"recommended_date,omitempty"`
}

// FormatDeadlines renders deadlines as a JSON array.
func (f *JSONFormatter) FormatDeadlines(deadlines []core.Deadline) (string, error) {
	rows := make([]deadlineJSON, 0, len(deadlines))
	for _, d := range deadlines {
		rows = append(rows, deadlineJSON{
			ID:              d.ID,
			Title:           d.Title,
			Due:             d.DueString(),
			AllDay:          d.AllDay,
			Description:     d.Description,
			Category:        d.Category,
			RecommendedDate: recommended(d),
		})
	}
	return f.marshal(rows)
}

// FormatImport renders an import report as a JSON object.
func (f *JSONFormatter) FormatImport(report ImportReport) (string, error) {
	return f.marshal(report)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
