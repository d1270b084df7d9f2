package calendar

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "calendar.json"))
	require.NoError(t, err)
	return s
}

func TestCreateListDelete(t *testing.T) {
	s := setupStore(t)

	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	e, err := s.Create("dentist", start, start.Add(time.Hour), "bring insurance card")
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)

	events := s.List(start.AddDate(0, 0, -1), start.AddDate(0, 0, 1))
	require.Len(t, events, 1)
	assert.Equal(t, "dentist", events[0].Summary)

	require.NoError(t, s.Update(e.ID, "dentist (rescheduled)"))
	events = s.List(start.AddDate(0, 0, -1), start.AddDate(0, 0, 1))
	assert.Equal(t, "dentist (rescheduled)", events[0].Summary)

	require.NoError(t, s.Delete(e.ID))
	assert.Empty(t, s.List(start.AddDate(0, 0, -1), start.AddDate(0, 0, 1)))

	assert.ErrorIs(t, s.Delete("missing"), ErrEventNotFound)
	assert.ErrorIs(t, s.Update("missing", "x"), ErrEventNotFound)
}

func TestValidation(t *testing.T) {
	s := setupStore(t)
	now := time.Now()

	_, err := s.Create("", now, now.Add(time.Hour), "")
	assert.Error(t, err)

	_, err = s.Create("backwards", now, now.Add(-time.Hour), "")
	assert.Error(t, err)
}

func TestPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.json")

	s, err := NewStore(path)
	require.NoError(t, err)
	start := time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)
	_, err = s.Create("standup", start, start.Add(15*time.Minute), "")
	require.NoError(t, err)

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	events := reloaded.List(start.AddDate(0, 0, -1), start.AddDate(0, 0, 1))
	require.Len(t, events, 1)
	assert.Equal(t, "standup", events[0].Summary)
}

func TestListInjectsHolidaysAndBirthday(t *testing.T) {
	s := setupStore(t)
	s.SetBirthday(time.October, 30)

	start := time.Date(2026, time.October, 29, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC)
	events := s.List(start, end)

	var summaries []string
	for _, e := range events {
		summaries = append(summaries, e.Summary)
	}
	assert.Contains(t, summaries, "Halloween")
	assert.Contains(t, summaries, "User's Birthday")

	// Ordered by start time: birthday (Oct 30) before Halloween (Oct 31).
	require.Len(t, events, 2)
	assert.Equal(t, "User's Birthday", events[0].Summary)
}

func TestSpecialDay(t *testing.T) {
	s := setupStore(t)

	name, ok := s.SpecialDay(time.Date(2026, time.December, 25, 10, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, "Christmas", name)

	_, ok = s.SpecialDay(time.Date(2026, time.December, 2, 10, 0, 0, 0, time.UTC))
	assert.False(t, ok)

	// Configured dates override the builtin table.
	s.SetSpecialDates(map[string]string{"12-25": "Family Dinner", "08-28": "Adoption Day"})
	name, ok = s.SpecialDay(time.Date(2026, time.December, 25, 10, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, "Family Dinner", name)

	name, ok = s.SpecialDay(time.Date(2026, time.August, 28, 10, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, "Adoption Day", name)
}
