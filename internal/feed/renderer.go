// Package feed renders deadline records as iCalendar documents.
package feed

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/core"
)

// ContentType is the media type of a rendered feed.
const ContentType = "text/calendar; charset=utf-8"

const productID = "-//deadlinecal//Deadline Feed//EN"

// RenderError describes a record that could not be turned into an event.
type RenderError struct {
	Index  int
	ID     string
	Reason string
}

func (e *RenderError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("record %d (%s): %s", e.Index, e.ID, e.Reason)
}

// Options selects what a single render covers.
type Options struct {
	// Category limits the feed title to one group. Records are not filtered
	// here; the caller passes the records it wants rendered.
	Category string
}

// Document is a rendered calendar.
type Document struct {
	Name     string
	Body     []byte
	Rendered int
	Skipped  int
	Errors   []error
}

// Renderer converts deadline records to calendar documents.
type Renderer struct {
	cfg      config.FeedConfig
	location *time.Location

	// Clock supplies DTSTAMP. It is the only input that changes between
	// renders of the same records.
	Clock func() time.Time
}

// New builds a renderer for the configured timezone.
func New(cfg config.FeedConfig) (*Renderer, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	location, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load feed timezone %q: %w", tz, err)
	}
	if strings.TrimSpace(cfg.UIDDomain) == "" {
		return nil, errors.New("feed uid domain is required")
	}
	return &Renderer{cfg: cfg, location: location}, nil
}

// CalendarName returns the display name for a category, or the combined
// feed name when category is empty.
func (r *Renderer) CalendarName(category string) string {
	category = core.NormalizeCategory(category)
	if category == "" {
		return r.cfg.Name
	}
	pattern := r.cfg.GroupName
	if !strings.Contains(pattern, "%s") {
		return strings.TrimSpace(pattern + " " + category)
	}
	return fmt.Sprintf(pattern, category)
}

// UID returns the event UID for a record ID.
func (r *Renderer) UID(id string) string {
	return strings.TrimSpace(id) + "@" + r.cfg.UIDDomain
}

// Render builds a calendar containing one event per valid record. Invalid
// records are skipped and reported in the document, never fatal. Events are
// ordered by due time then ID regardless of input order.
func (r *Renderer) Render(records []core.Deadline, opts Options) (*Document, error) {
	if r == nil {
		return nil, errors.New("renderer is not initialized")
	}

	name := r.CalendarName(opts.Category)
	doc := &Document{Name: name}

	cal := ics.NewCalendarFor("deadlinecal")
	cal.SetProductId(productID)
	cal.SetMethod(ics.MethodPublish)
	cal.SetName(name)
	cal.SetXWRCalName(name)
	if desc := r.description(name); desc != "" {
		cal.SetXWRCalDesc(desc)
	}
	if r.cfg.RefreshInterval > 0 {
		interval := formatDuration(r.cfg.RefreshInterval)
		cal.SetRefreshInterval(interval)
		cal.SetXPublishedTTL(interval)
	}

	valid := make([]core.Deadline, 0, len(records))
	for i, record := range records {
		if err := validate(i, record); err != nil {
			doc.Skipped++
			doc.Errors = append(doc.Errors, err)
			continue
		}
		valid = append(valid, record)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if !valid[i].Due.Equal(valid[j].Due) {
			return valid[i].Due.Before(valid[j].Due)
		}
		return valid[i].ID < valid[j].ID
	})

	stamp := r.now()
	for _, record := range valid {
		r.addEvent(cal, record, stamp)
		doc.Rendered++
	}

	doc.Body = []byte(cal.Serialize())
	return doc, nil
}

func (r *Renderer) addEvent(cal *ics.Calendar, record core.Deadline, stamp time.Time) {
	event := cal.AddEvent(r.UID(record.ID))
	event.SetDtStampTime(stamp)

	if r.cfg.AllDay {
		day := r.day(record)
		event.SetAllDayStartAt(day)
		event.SetAllDayEndAt(day.AddDate(0, 0, 1))
	} else if record.AllDay {
		day := r.day(record)
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, r.location)
		event.SetStartAt(start.UTC())
		event.SetEndAt(start.AddDate(0, 0, 1).UTC())
	} else {
		event.SetStartAt(record.Due.UTC())
	}

	event.SetSummary(strings.TrimSpace(record.Title))
	if desc := describe(record); desc != "" {
		event.SetDescription(desc)
	}
	if category := core.NormalizeCategory(record.Category); category != "" {
		event.SetProperty(ics.ComponentPropertyCategories, category)
	}
	if !record.UpdatedAt.IsZero() {
		event.SetModifiedAt(record.UpdatedAt.UTC())
	}
}

// day returns the calendar date a record falls on. Date-only records keep
// their stored date; timed records take the date in the feed timezone.
func (r *Renderer) day(record core.Deadline) time.Time {
	due := record.Due.UTC()
	if !record.AllDay {
		due = record.Due.In(r.location)
	}
	return time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
}

func (r *Renderer) description(name string) string {
	desc := strings.TrimSpace(r.cfg.Description)
	if desc == "" {
		return ""
	}
	if name == r.cfg.Name {
		return desc
	}
	return desc + ": " + name
}

func (r *Renderer) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}

func describe(record core.Deadline) string {
	desc := strings.TrimSpace(record.Description)
	if record.RecommendedDate == nil || record.RecommendedDate.IsZero() {
		return desc
	}
	recommended := "recommended submission " + record.RecommendedDate.Format(core.DateLayout)
	if desc == "" {
		return strings.ToUpper(recommended[:1]) + recommended[1:]
	}
	return desc + " (" + recommended + ")"
}

func validate(index int, record core.Deadline) error {
	id := strings.TrimSpace(record.ID)
	switch {
	case id == "":
		return &RenderError{Index: index, Reason: "missing id"}
	case strings.TrimSpace(record.Title) == "":
		return &RenderError{Index: index, ID: id, Reason: "missing title"}
	case record.Due.IsZero():
		return &RenderError{Index: index, ID: id, Reason: "missing due date"}
	}
	return nil
}

// formatDuration renders d as an RFC 5545 duration, e.g. PT1H or P1DT30M.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "PT0S"
	}

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	var b strings.Builder
	b.WriteString("P")
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		b.WriteString("T")
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if seconds > 0 {
			fmt.Fprintf(&b, "%dS", seconds)
		}
	}
	return b.String()
}
