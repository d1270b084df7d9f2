// Package reminder schedules one-shot reminders and recurring daily
// routines that are surfaced to the user through the live session.
package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrReminderNotFound is returned when a reminder id does not exist.
var ErrReminderNotFound = errors.New("reminder not found")

// Reminder is a scheduled one-shot reminder.
type Reminder struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Store schedules reminders and persists them across restarts.
type Store struct {
	path    string
	onFired func(Reminder)

	mu        sync.Mutex
	reminders map[string]Reminder
	timers    map[string]*time.Timer
	closed    bool
}

// NewStore loads persisted reminders from path (default
// ~/.aria/reminders.json) and arms timers for the pending ones. Reminders
// whose time passed while the process was down fire immediately once
// onFired is set.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, ".aria", "reminders.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create reminder directory: %w", err)
	}

	s := &Store{
		path:      path,
		reminders: make(map[string]Reminder),
		timers:    make(map[string]*time.Timer),
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read reminders: %w", err)
	}
	if len(data) > 0 {
		var persisted []Reminder
		if err := json.Unmarshal(data, &persisted); err != nil {
			log.Printf("[reminder] discarding corrupt reminder file: %v", err)
		} else {
			for _, r := range persisted {
				s.reminders[r.ID] = r
			}
		}
	}

	return s, nil
}

// SetOnFired installs the fired callback and arms timers for every loaded
// reminder. Must be called before Create.
func (s *Store) SetOnFired(fn func(Reminder)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onFired = fn
	for _, r := range s.reminders {
		s.armLocked(r)
	}
}

// Create schedules a reminder for the given absolute time.
func (s *Store) Create(_ context.Context, message string, at time.Time) (Reminder, error) {
	if message == "" {
		return Reminder{}, errors.New("reminder message is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Reminder{}, errors.New("reminder store is closed")
	}

	r := Reminder{
		ID:      uuid.NewString(),
		Message: message,
		At:      at,
	}
	s.reminders[r.ID] = r
	s.armLocked(r)

	if err := s.persistLocked(); err != nil {
		return Reminder{}, err
	}
	log.Printf("[reminder] scheduled %q for %s", message, at.Format(time.RFC3339))
	return r, nil
}

// List returns pending reminders ordered by due time.
func (s *Store) List(_ context.Context) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Cancel removes a pending reminder.
func (s *Store) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reminders[id]; !ok {
		return ErrReminderNotFound
	}
	delete(s.reminders, id)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	return s.persistLocked()
}

// Close stops all timers. Pending reminders stay persisted.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	return nil
}

// armLocked starts the timer for r. Overdue reminders fire near-immediately.
func (s *Store) armLocked(r Reminder) {
	if s.onFired == nil {
		return
	}
	if _, armed := s.timers[r.ID]; armed {
		return
	}

	delay := time.Until(r.At)
	if delay < 0 {
		delay = 0
	}
	s.timers[r.ID] = time.AfterFunc(delay, func() { s.fire(r.ID) })
}

func (s *Store) fire(id string) {
	s.mu.Lock()
	r, ok := s.reminders[id]
	if ok {
		delete(s.reminders, id)
		delete(s.timers, id)
		if err := s.persistLocked(); err != nil {
			log.Printf("[reminder] persist after fire: %v", err)
		}
	}
	fn := s.onFired
	s.mu.Unlock()

	if ok && fn != nil {
		fn(r)
	}
}

func (s *Store) persistLocked() error {
	out := make([]Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal reminders: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write reminders: %w", err)
	}
	return nil
}
