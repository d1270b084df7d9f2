// Package activity tracks conversational activity timestamps and the
// bookkeeping the idle-engagement scheduler reads: who spoke last and when,
// a short ring of recent user topics, and the ledger of proactive nudges
// already sent.
package activity

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultTopicMemorySize bounds the recent-utterance topic ring.
const DefaultTopicMemorySize = 6

// maxTermsPerUtterance caps how many topic terms one utterance contributes.
const maxTermsPerUtterance = 6

var wordRe = regexp.MustCompile(`[\p{L}0-9]{4,}`)

// stopTerms are common filler words excluded from topic hints.
var stopTerms = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "have": {}, "just": {},
	"like": {}, "really": {}, "about": {}, "something": {}, "always": {},
	"never": {}, "right": {}, "okay": {}, "yeah": {}, "well": {},
}

// Clock tracks last-activity timestamps and nudge bookkeeping for one
// process lifetime. It is safe for concurrent use: the receive loop, the
// capture tasks and the scheduler tick all touch it.
type Clock struct {
	mu sync.Mutex

	lastUser      time.Time
	lastAssistant time.Time

	topics    []string
	topicSize int

	lastNudge       time.Time
	nudgesSession   int
	nudgeWindow     []time.Time
	unansweredNudge int

	now func() time.Time
}

// NewClock returns a Clock with the topic ring bounded to size entries.
// The clock starts with last-user-activity set to now, so a freshly started
// process is not immediately considered idle.
func NewClock(size int) *Clock {
	return NewClockWithNow(size, time.Now)
}

// NewClockWithNow returns a Clock using a custom time source. Tests use it
// to drive the clock deterministically.
func NewClockWithNow(size int, now func() time.Time) *Clock {
	if size <= 0 {
		size = DefaultTopicMemorySize
	}
	c := &Clock{topicSize: size, now: now}
	c.lastUser = c.now()
	return c
}

// MarkUser records user activity. Any user activity resets the
// unanswered-nudge counter. Non-empty text contributes topic terms to the
// ring buffer.
func (c *Clock) MarkUser(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastUser = c.now()
	c.unansweredNudge = 0

	for _, term := range extractTerms(text) {
		c.topics = append(c.topics, term)
	}
	if n := len(c.topics) - c.topicSize; n > 0 {
		c.topics = append(c.topics[:0], c.topics[n:]...)
	}
}

// MarkAssistant records assistant activity.
func (c *Clock) MarkAssistant() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAssistant = c.now()
}

// RecordNudge records an emitted nudge: updates the last-nudge timestamp,
// the per-session counter, the hourly sliding window and the
// unanswered-nudge counter.
func (c *Clock) RecordNudge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.lastNudge = now
	c.nudgesSession++
	c.nudgeWindow = append(c.nudgeWindow, now)
	c.unansweredNudge++
}

// Snapshot is a point-in-time copy of the clock state read by the scheduler.
type Snapshot struct {
	LastUser        time.Time
	LastAssistant   time.Time
	LastNudge       time.Time
	NudgesSession   int
	NudgesLastHour  int
	UnansweredNudge int
	TopicHint       string
}

// Snapshot returns the current state. Nudge timestamps older than one hour
// are pruned from the sliding window as a side effect.
func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(c.nudgeWindow) && c.nudgeWindow[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		c.nudgeWindow = append(c.nudgeWindow[:0], c.nudgeWindow[i:]...)
	}

	hint := ""
	if len(c.topics) > 0 {
		hint = c.topics[len(c.topics)-1]
	}

	return Snapshot{
		LastUser:        c.lastUser,
		LastAssistant:   c.lastAssistant,
		LastNudge:       c.lastNudge,
		NudgesSession:   c.nudgesSession,
		NudgesLastHour:  len(c.nudgeWindow),
		UnansweredNudge: c.unansweredNudge,
		TopicHint:       hint,
	}
}

func extractTerms(text string) []string {
	if text == "" {
		return nil
	}
	var terms []string
	for _, w := range wordRe.FindAllString(text, -1) {
		lw := strings.ToLower(w)
		if _, stop := stopTerms[lw]; stop {
			continue
		}
		terms = append(terms, lw)
		if len(terms) >= maxTermsPerUtterance {
			break
		}
	}
	return terms
}
