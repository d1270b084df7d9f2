// Package calendar keeps a small local event store and knows about
// recurring special days such as holidays and the user's birthday.
package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEventNotFound is returned when an event id does not exist.
var ErrEventNotFound = errors.New("calendar event not found")

// monthDay keys the holiday table.
type monthDay struct {
	Month time.Month
	Day   int
}

// holidays maps fixed calendar dates to a display name.
var holidays = map[monthDay]string{
	{time.January, 1}:    "New Year's Day",
	{time.February, 14}:  "Valentine's Day",
	{time.March, 8}:      "International Women's Day",
	{time.March, 14}:     "White Day",
	{time.April, 1}:      "April Fools' Day",
	{time.April, 22}:     "Earth Day",
	{time.May, 1}:        "Labor Day",
	{time.May, 4}:        "Star Wars Day",
	{time.June, 5}:       "World Environment Day",
	{time.July, 30}:      "International Friendship Day",
	{time.August, 12}:    "International Youth Day",
	{time.September, 13}: "Programmers' Day",
	{time.September, 21}: "International Day of Peace",
	{time.October, 4}:    "World Animal Day",
	{time.October, 31}:   "Halloween",
	{time.December, 24}:  "Christmas Eve",
	{time.December, 25}:  "Christmas",
	{time.December, 31}:  "New Year's Eve",
}

// Event is one stored calendar event.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
}

// Store is a JSON-file backed calendar.
type Store struct {
	path string

	mu       sync.Mutex
	events   map[string]Event
	birthday *monthDay
	// specialDates maps "MM-DD" to a name, configured by the user.
	specialDates map[string]string
}

// NewStore loads the calendar from path (default ~/.aria/calendar.json).
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, ".aria", "calendar.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create calendar directory: %w", err)
	}

	s := &Store{
		path:         path,
		events:       make(map[string]Event),
		specialDates: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read calendar: %w", err)
	}
	if len(data) > 0 {
		var persisted []Event
		if err := json.Unmarshal(data, &persisted); err != nil {
			return nil, fmt.Errorf("parse calendar: %w", err)
		}
		for _, e := range persisted {
			s.events[e.ID] = e
		}
	}

	return s, nil
}

// SetBirthday records the user's birthday for special-day injection.
func (s *Store) SetBirthday(month time.Month, day int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.birthday = &monthDay{Month: month, Day: day}
}

// SetSpecialDates installs user-configured special dates keyed "MM-DD".
func (s *Store) SetSpecialDates(dates map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specialDates = make(map[string]string, len(dates))
	for k, v := range dates {
		s.specialDates[k] = v
	}
}

// Create adds an event and persists the store.
func (s *Store) Create(summary string, start, end time.Time, description string) (Event, error) {
	if summary == "" {
		return Event{}, errors.New("event summary is required")
	}
	if end.Before(start) {
		return Event{}, errors.New("event end precedes start")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := Event{
		ID:          uuid.NewString(),
		Summary:     summary,
		Start:       start,
		End:         end,
		Description: description,
	}
	s.events[e.ID] = e
	if err := s.persistLocked(); err != nil {
		delete(s.events, e.ID)
		return Event{}, err
	}
	return e, nil
}

// Update changes an event's summary.
func (s *Store) Update(id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return ErrEventNotFound
	}
	e.Summary = summary
	s.events[id] = e
	return s.persistLocked()
}

// Delete removes an event.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return ErrEventNotFound
	}
	delete(s.events, id)
	return s.persistLocked()
}

// List returns stored events whose start falls in [start, end), plus
// synthetic entries for holidays, configured special dates and the
// user's birthday. Results are ordered by start time.
func (s *Store) List(start, end time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		if !e.Start.Before(start) && e.Start.Before(end) {
			out = append(out, e)
		}
	}

	for year := start.Year(); year <= end.Year(); year++ {
		if s.birthday != nil {
			day := time.Date(year, s.birthday.Month, s.birthday.Day, 0, 0, 0, 0, start.Location())
			if !day.Before(start) && day.Before(end) {
				out = append(out, Event{
					ID:          fmt.Sprintf("birthday-%d", year),
					Summary:     "User's Birthday",
					Start:       day,
					End:         day.AddDate(0, 0, 1),
					Description: "Happy Birthday!",
				})
			}
		}
		for md, name := range s.allSpecialLocked() {
			day := time.Date(year, md.Month, md.Day, 0, 0, 0, 0, start.Location())
			if !day.Before(start) && day.Before(end) {
				out = append(out, Event{
					ID:      fmt.Sprintf("holiday-%d-%02d-%02d", year, md.Month, md.Day),
					Summary: name,
					Start:   day,
					End:     day.AddDate(0, 0, 1),
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// TodaysEvents returns events starting on now's calendar day.
func (s *Store) TodaysEvents(now time.Time) []Event {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.List(dayStart, dayStart.AddDate(0, 0, 1))
}

// SpecialDay reports the holiday or configured special-date name for
// now's date, if any. Configured dates take precedence.
func (s *Store) SpecialDay(now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%02d-%02d", int(now.Month()), now.Day())
	if name, ok := s.specialDates[key]; ok {
		return name, true
	}
	name, ok := holidays[monthDay{Month: now.Month(), Day: now.Day()}]
	return name, ok
}

// allSpecialLocked merges the builtin holiday table with configured
// special dates, configured names winning on conflict.
func (s *Store) allSpecialLocked() map[monthDay]string {
	merged := make(map[monthDay]string, len(holidays)+len(s.specialDates))
	for md, name := range holidays {
		merged[md] = name
	}
	for key, name := range s.specialDates {
		var m, d int
		if _, err := fmt.Sscanf(key, "%d-%d", &m, &d); err == nil {
			merged[monthDay{Month: time.Month(m), Day: d}] = name
		}
	}
	return merged
}

func (s *Store) persistLocked() error {
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calendar: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}
