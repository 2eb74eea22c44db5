package feed

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/core"
)

func testConfig() config.FeedConfig {
	return config.FeedConfig{
		Name:            "All Assignment Deadlines",
		Description:     "Assignment and marking deadlines",
		GroupName:       "%s Assignment Deadlines",
		Timezone:        "Europe/London",
		AllDay:          true,
		UIDDomain:       "deadlines-calendar",
		RefreshInterval: time.Hour,
	}
}

func newRenderer(t *testing.T, cfg config.FeedConfig) *Renderer {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	r.Clock = func() time.Time { return time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC) }
	return r
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func decode(t *testing.T, body []byte) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(bytes.NewReader(body)).Decode()
	require.NoError(t, err, "rendered feed must parse:\n%s", body)
	return cal
}

func TestRenderSingleAllDayRecord(t *testing.T) {
	r := newRenderer(t, testConfig())

	doc, err := r.Render([]core.Deadline{{
		ID:       "X1",
		Title:    "Essay",
		Due:      day(2026, 1, 15),
		AllDay:   true,
		Category: "cm1",
	}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Rendered)
	assert.Equal(t, 0, doc.Skipped)

	body := string(doc.Body)
	assert.Contains(t, body, "UID:X1@deadlines-calendar")
	assert.Contains(t, body, "DTSTART;VALUE=DATE:20260115")
	assert.Contains(t, body, "DTEND;VALUE=DATE:20260116")
	assert.Contains(t, body, "SUMMARY:Essay")
	assert.Contains(t, body, "\r\n")

	cal := decode(t, doc.Body)
	events := cal.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "X1@deadlines-calendar", events[0].Props.Get(ical.PropUID).Value)
	assert.Equal(t, "CM1", events[0].Props.Get(ical.PropCategories).Value)
	assert.Equal(t, "PUBLISH", cal.Props.Get(ical.PropMethod).Value)
	assert.Equal(t, "All Assignment Deadlines", cal.Props.Get("X-WR-CALNAME").Value)
	assert.Equal(t, "PT1H", cal.Props.Get("X-PUBLISHED-TTL").Value)
}

func TestRenderEmpty(t *testing.T) {
	r := newRenderer(t, testConfig())

	doc, err := r.Render(nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Rendered)

	cal := decode(t, doc.Body)
	assert.Empty(t, cal.Events())
	assert.Contains(t, string(doc.Body), "BEGIN:VCALENDAR")
	assert.Contains(t, string(doc.Body), "VERSION:2.0")
}

func TestRenderRefreshIntervalLine(t *testing.T) {
	r := newRenderer(t, testConfig())

	doc, err := r.Render(nil, Options{})
	require.NoError(t, err)

	lines := strings.Split(string(doc.Body), "\r\n")
	var refresh []string
	for _, line := range lines {
		if strings.HasPrefix(line, "REFRESH-INTERVAL") {
			refresh = append(refresh, line)
		}
	}
	require.Len(t, refresh, 1)
	assert.Equal(t, "REFRESH-INTERVAL;VALUE=DURATION:PT1H", refresh[0])

	cfg := testConfig()
	cfg.RefreshInterval = 0
	doc, err = newRenderer(t, cfg).Render(nil, Options{})
	require.NoError(t, err)
	assert.NotContains(t, string(doc.Body), "REFRESH-INTERVAL")
	assert.NotContains(t, string(doc.Body), "X-PUBLISHED-TTL")
}

var dtstamp = regexp.MustCompile(`(?m)^DTSTAMP:.*\r?\n`)

func TestRenderIsDeterministicExceptDTSTAMP(t *testing.T) {
	records := []core.Deadline{
		{ID: "b", Title: "Second", Due: day(2026, 2, 1), AllDay: true},
		{ID: "a", Title: "First", Due: day(2026, 1, 15), AllDay: true, Description: "Part one"},
		{ID: "c", Title: "Also first", Due: day(2026, 1, 15), AllDay: true},
	}

	r := newRenderer(t, testConfig())
	first, err := r.Render(records, Options{})
	require.NoError(t, err)

	r.Clock = func() time.Time { return time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC) }
	reversed := []core.Deadline{records[2], records[1], records[0]}
	second, err := r.Render(reversed, Options{})
	require.NoError(t, err)

	assert.NotEqual(t, string(first.Body), string(second.Body))
	assert.Equal(t,
		dtstamp.ReplaceAllString(string(first.Body), ""),
		dtstamp.ReplaceAllString(string(second.Body), ""),
	)

	events := decode(t, first.Body).Events()
	require.Len(t, events, 3)
	assert.Equal(t, "a@deadlines-calendar", events[0].Props.Get(ical.PropUID).Value)
	assert.Equal(t, "c@deadlines-calendar", events[1].Props.Get(ical.PropUID).Value)
	assert.Equal(t, "b@deadlines-calendar", events[2].Props.Get(ical.PropUID).Value)
}

func TestRenderSkipsInvalidRecords(t *testing.T) {
	r := newRenderer(t, testConfig())

	doc, err := r.Render([]core.Deadline{
		{ID: "ok", Title: "Valid", Due: day(2026, 1, 15), AllDay: true},
		{Title: "No ID", Due: day(2026, 1, 15)},
		{ID: "no-title", Due: day(2026, 1, 15)},
		{ID: "no-due", Title: "No due"},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Rendered)
	assert.Equal(t, 3, doc.Skipped)
	require.Len(t, doc.Errors, 3)

	var renderErr *RenderError
	require.True(t, errors.As(doc.Errors[1], &renderErr))
	assert.Equal(t, "no-title", renderErr.ID)
	assert.Equal(t, 2, renderErr.Index)

	events := decode(t, doc.Body).Events()
	require.Len(t, events, 1)
	assert.Equal(t, "ok@deadlines-calendar", events[0].Props.Get(ical.PropUID).Value)
}

func TestRenderUIDIndependentOfDueDate(t *testing.T) {
	r := newRenderer(t, testConfig())

	before, err := r.Render([]core.Deadline{{ID: "CM1-A1-2026", Title: "T", Due: day(2026, 1, 15), AllDay: true}}, Options{})
	require.NoError(t, err)
	after, err := r.Render([]core.Deadline{{ID: "CM1-A1-2026", Title: "T", Due: day(2026, 1, 22), AllDay: true}}, Options{})
	require.NoError(t, err)

	uid := func(doc *Document) string {
		return decode(t, doc.Body).Events()[0].Props.Get(ical.PropUID).Value
	}
	assert.Equal(t, uid(before), uid(after))
}

func TestRenderTimedRecordAsAllDay(t *testing.T) {
	r := newRenderer(t, testConfig())

	// 23:30 UTC on 30 June is 00:30 on 1 July in London (BST).
	doc, err := r.Render([]core.Deadline{{
		ID:    "late",
		Title: "Late submission",
		Due:   time.Date(2026, 6, 30, 23, 30, 0, 0, time.UTC),
	}}, Options{})
	require.NoError(t, err)
	assert.Contains(t, string(doc.Body), "DTSTART;VALUE=DATE:20260701")
}

func TestRenderUTCDateTimes(t *testing.T) {
	cfg := testConfig()
	cfg.AllDay = false
	r := newRenderer(t, cfg)

	doc, err := r.Render([]core.Deadline{
		{ID: "timed", Title: "Timed", Due: time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)},
		{ID: "dated", Title: "Dated", Due: day(2026, 7, 1), AllDay: true},
	}, Options{})
	require.NoError(t, err)

	body := string(doc.Body)
	assert.Contains(t, body, "DTSTART:20260115T170000Z")
	// Midnight in London during BST.
	assert.Contains(t, body, "DTSTART:20260630T230000Z")
	assert.Contains(t, body, "DTEND:20260701T230000Z")
	assert.NotContains(t, body, "VALUE=DATE")

	decode(t, doc.Body)
}

func TestRenderOptionalProperties(t *testing.T) {
	r := newRenderer(t, testConfig())
	recommended := day(2026, 1, 8)

	doc, err := r.Render([]core.Deadline{{
		ID:              "x",
		Title:           "Report",
		Due:             day(2026, 1, 15),
		AllDay:          true,
		Description:     "Assignment deadline for CM1 X1",
		RecommendedDate: &recommended,
		UpdatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}, Options{Category: "cm1"})
	require.NoError(t, err)
	assert.Equal(t, "CM1 Assignment Deadlines", doc.Name)

	cal := decode(t, doc.Body)
	assert.Equal(t, "CM1 Assignment Deadlines", cal.Props.Get("X-WR-CALNAME").Value)

	event := cal.Events()[0]
	desc, err := event.Props.Get(ical.PropDescription).Text()
	require.NoError(t, err)
	assert.Equal(t, "Assignment deadline for CM1 X1 (recommended submission 2026-01-08)", desc)
	assert.Equal(t, "20260102T030405Z", event.Props.Get(ical.PropLastModified).Value)
	assert.Nil(t, event.Props.Get(ical.PropCategories))
}

func TestCalendarName(t *testing.T) {
	r := newRenderer(t, testConfig())
	assert.Equal(t, "All Assignment Deadlines", r.CalendarName(""))
	assert.Equal(t, "SP Assignment Deadlines", r.CalendarName(" sp "))

	cfg := testConfig()
	cfg.GroupName = "Deadlines for"
	r = newRenderer(t, cfg)
	assert.Equal(t, "Deadlines for SP", r.CalendarName("SP"))
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Nowhere/Special"
	_, err := New(cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.UIDDomain = ""
	_, err = New(cfg)
	require.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{time.Hour, "PT1H"},
		{90 * time.Minute, "PT1H30M"},
		{24 * time.Hour, "P1D"},
		{25*time.Hour + 5*time.Second, "P1DT1H5S"},
		{0, "PT0S"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in), tt.in.String())
	}
}
