package core

import (
	"strings"
	"time"
)

// DateLayout is the storage and wire layout for date-only due values.
const DateLayout = "2006-01-02"

// Deadline is a single assignment or marking deadline.
//
// ID is stable across imports; re-importing the same source must yield the
// same ID so the store upserts instead of duplicating.
type Deadline struct {
	ID              string     `json:"id" yaml:"id"`
	Title           string     `json:"title" yaml:"title"`
	Due             time.Time  `json:"due" yaml:"-"`
	AllDay          bool       `json:"all_day" yaml:"-"`
	Description     string     `json:"description,omitempty" yaml:"description,omitempty"`
	Category        string     `json:"category,omitempty" yaml:"category,omitempty"`
	RecommendedDate *time.Time `json:"recommended_date,omitempty" yaml:"-"`
	Active          bool       `json:"active" yaml:"-"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty" yaml:"-"`
}

// DueString renders the due value in its storage form: a bare date for
// all-day deadlines, RFC 3339 otherwise.
func (d Deadline) DueString() string {
	if d.AllDay {
		return d.Due.Format(DateLayout)
	}
	return d.Due.Format(time.RFC3339)
}

// ParseDue parses a stored or imported due value. Bare dates are all-day.
func ParseDue(value string) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, false, nil
}

// NormalizeCategory upper-cases and trims a category or group name.
func NormalizeCategory(category string) string {
	return strings.ToUpper(strings.TrimSpace(category))
}
