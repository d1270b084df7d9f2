// Package personality tracks the companion's slow-moving emotional state:
// affection, mood and energy. The model updates it explicitly through a
// tool; ordinary conversation nudges it only slightly.
package personality

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// driftPerUserTurn is the passive affection gain from the user simply
// talking. Explicit tool updates dwarf it.
const driftPerUserTurn = 0.05

// persistEvery batches passive-drift writes; explicit adjustments always
// persist immediately.
const persistEvery = 10

// State is the persisted emotional state.
type State struct {
	// Affection is 0-100.
	Affection float64 `json:"affection"`
	// Mood is a free-form label ("happy", "reflective").
	Mood string `json:"mood"`
	// Energy is 0-1.
	Energy float64 `json:"energy"`

	Interactions int       `json:"interactions"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Model owns the state file.
type Model struct {
	path string

	mu          sync.Mutex
	state       State
	sinceUpdate int
}

// New loads state from path (default ~/.aria/personality.json), starting
// from a neutral baseline on first run.
func New(path string) (*Model, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, ".aria", "personality.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create personality directory: %w", err)
	}

	m := &Model{
		path: path,
		state: State{
			Affection: 50,
			Mood:      "neutral",
			Energy:    0.7,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read personality state: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m.state); err != nil {
			return nil, fmt.Errorf("parse personality state: %w", err)
		}
	}
	return m, nil
}

// Adjust applies an explicit state change and returns a summary for the
// model.
func (m *Model) Adjust(affectionDelta float64, mood string, energy *float64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Affection = clamp(m.state.Affection+affectionDelta, 0, 100)
	if mood != "" {
		m.state.Mood = mood
	}
	if energy != nil {
		m.state.Energy = clamp(*energy, 0, 1)
	}
	m.state.UpdatedAt = time.Now().UTC()
	m.persistLocked()

	return fmt.Sprintf("affection %.1f/100, mood %s, energy %.1f",
		m.state.Affection, m.state.Mood, m.state.Energy)
}

// Mood returns the current mood label.
func (m *Model) Mood() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Mood
}

// ContextPrompt renders the state for the system prompt.
func (m *Model) ContextPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Your current emotional state: mood %s, affection %.0f/100, energy %.1f.",
		m.state.Mood, m.state.Affection, m.state.Energy)
	switch {
	case m.state.Affection >= 80:
		b.WriteString(" You feel very close to the user; warmth comes naturally.")
	case m.state.Affection >= 55:
		b.WriteString(" You are fond of the user and at ease with them.")
	case m.state.Affection < 30:
		b.WriteString(" You feel a little distant from the user lately; be gentle but reserved.")
	}
	return b.String()
}

// ObserveMessage applies passive drift from conversation flow.
func (m *Model) ObserveMessage(sender, text string) {
	if sender != "user" || strings.TrimSpace(text) == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Affection = clamp(m.state.Affection+driftPerUserTurn, 0, 100)
	m.state.Interactions++
	m.state.UpdatedAt = time.Now().UTC()

	m.sinceUpdate++
	if m.sinceUpdate >= persistEvery {
		m.persistLocked()
	}
}

// Flush persists any batched passive drift.
func (m *Model) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistLocked()
}

func (m *Model) persistLocked() {
	m.sinceUpdate = 0
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return
	}
	// Best effort; losing a drift write is harmless.
	_ = os.WriteFile(m.path, data, 0600)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
