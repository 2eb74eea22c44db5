package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDue(t *testing.T) {
	due, allDay, err := ParseDue(" 2026-01-15 ")
	require.NoError(t, err)
	assert.True(t, allDay)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), due)

	due, allDay, err = ParseDue("2026-01-15T17:00:00+01:00")
	require.NoError(t, err)
	assert.False(t, allDay)
	assert.Equal(t, time.Date(2026, 1, 15, 16, 0, 0, 0, time.UTC), due.UTC())

	_, _, err = ParseDue("15/01/2026")
	require.Error(t, err)
}

func TestDueString(t *testing.T) {
	d := Deadline{Due: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), AllDay: true}
	assert.Equal(t, "2026-01-15", d.DueString())

	d.AllDay = false
	d.Due = time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-15T17:00:00Z", d.DueString())
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "CM1", NormalizeCategory(" cm1 "))
	assert.Equal(t, "", NormalizeCategory("  "))
}
