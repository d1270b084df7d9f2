// Package nudge decides when the assistant may proactively speak into a
// quiet conversation. The decision combines three saturation ratios (user
// silence, cooldown since the previous nudge, assistant quiet time) through
// a geometric mean, behind a set of hard gates (caps, quiet hours, pause).
package nudge

import (
	"fmt"
	"math"
	"time"

	"github.com/ambient-labs/aria/internal/activity"
)

// Config holds scheduler tuning. Zero values are replaced by defaults in
// Normalize.
type Config struct {
	// Enabled defaults to true; an explicit "enabled: false" opts out.
	Enabled *bool `yaml:"enabled"`

	// Threshold is the base user-silence duration before a nudge becomes
	// eligible.
	Threshold time.Duration `yaml:"threshold"`
	// ScreenThreshold overrides Threshold while screen sharing is active.
	ScreenThreshold time.Duration `yaml:"screen_threshold"`
	// Cooldown is the minimum spacing between nudges.
	Cooldown time.Duration `yaml:"cooldown"`
	// MinAIQuiet keeps the scheduler from nudging right after the
	// assistant spoke.
	MinAIQuiet time.Duration `yaml:"min_ai_quiet"`

	// ScoreThreshold is the combined-score cutoff. It sits near but below
	// 1 so all three ratios must be almost saturated at once.
	ScoreThreshold float64 `yaml:"score_threshold"`

	// BackoffStep scales the silence threshold per unanswered nudge:
	// effective = Threshold * (1 + unanswered*BackoffStep), capped at
	// Threshold * BackoffCap.
	BackoffStep float64 `yaml:"backoff_step"`
	BackoffCap  float64 `yaml:"backoff_cap"`

	MaxPerSession int `yaml:"max_per_session"`
	MaxPerHour    int `yaml:"max_per_hour"`

	// QuietStart/QuietEnd define a daily window ("23:00", "07:00") during
	// which nudges are suppressed. Equal values disable the window.
	QuietStart string `yaml:"quiet_start"`
	QuietEnd   string `yaml:"quiet_end"`
}

// Normalize fills in defaults for unset fields.
func (c Config) Normalize() Config {
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	if c.Threshold <= 0 {
		c.Threshold = 25 * time.Second
	}
	if c.ScreenThreshold <= 0 {
		c.ScreenThreshold = 60 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 45 * time.Second
	}
	if c.MinAIQuiet <= 0 {
		c.MinAIQuiet = 2 * time.Second
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = 0.97
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = 0.5
	}
	if c.BackoffCap <= 1 {
		c.BackoffCap = 4
	}
	if c.MaxPerSession <= 0 {
		c.MaxPerSession = 6
	}
	if c.MaxPerHour <= 0 {
		c.MaxPerHour = 12
	}
	if c.QuietStart == "" && c.QuietEnd == "" {
		c.QuietStart = "23:00"
		c.QuietEnd = "07:00"
	}
	return c
}

// State carries the session flags the scheduler gates on.
type State struct {
	Paused       bool
	UserSpeaking bool
	ScreenMode   bool
	// Mood optionally biases message selection.
	Mood string
}

// Decision is an emitted nudge.
type Decision struct {
	// Message is the engagement prompt to send as a terminal turn.
	Message string
	// TopicHint is the most recent remembered user term, if any.
	TopicHint string
}

// Scheduler evaluates nudge eligibility against an activity clock.
type Scheduler struct {
	cfg   Config
	clock *activity.Clock
	pick  func(n int) int // strategy selector, swappable in tests
	now   func() time.Time
	seq   int
}

// NewScheduler returns a Scheduler reading from clock.
func NewScheduler(cfg Config, clock *activity.Clock) *Scheduler {
	s := &Scheduler{
		cfg:   cfg.Normalize(),
		clock: clock,
		now:   time.Now,
	}
	s.pick = func(n int) int {
		s.seq++
		return s.seq % n
	}
	return s
}

// Decide returns a nudge decision, or false when no nudge should be sent
// now. Callers are responsible for sending the message and then calling
// clock.RecordNudge.
func (s *Scheduler) Decide(st State) (Decision, bool) {
	if !*s.cfg.Enabled || st.Paused || st.UserSpeaking {
		return Decision{}, false
	}

	now := s.now()
	snap := s.clock.Snapshot()

	if snap.NudgesSession >= s.cfg.MaxPerSession {
		return Decision{}, false
	}
	if snap.NudgesLastHour >= s.cfg.MaxPerHour {
		return Decision{}, false
	}
	if s.inQuietHours(now) {
		return Decision{}, false
	}

	if s.score(now, snap, st.ScreenMode) < s.cfg.ScoreThreshold {
		return Decision{}, false
	}

	return Decision{
		Message:   s.buildMessage(st, snap.TopicHint),
		TopicHint: snap.TopicHint,
	}, true
}

// score is the geometric mean of three bounded ratios. Each ratio saturates
// at 1; combining them geometrically means no single condition can carry the
// decision while another is barely met.
func (s *Scheduler) score(now time.Time, snap activity.Snapshot, screenMode bool) float64 {
	threshold := s.cfg.Threshold
	if screenMode {
		threshold = s.cfg.ScreenThreshold
	}

	// Adaptive backoff: every unanswered nudge raises the bar.
	mult := 1 + float64(snap.UnansweredNudge)*s.cfg.BackoffStep
	if mult > s.cfg.BackoffCap {
		mult = s.cfg.BackoffCap
	}
	threshold = time.Duration(float64(threshold) * mult)

	userRatio := boundedRatio(now.Sub(snap.LastUser), threshold)

	cooldownRatio := 1.0
	if !snap.LastNudge.IsZero() {
		cooldownRatio = boundedRatio(now.Sub(snap.LastNudge), s.cfg.Cooldown)
	}

	aiRatio := 1.0
	if !snap.LastAssistant.IsZero() {
		aiRatio = boundedRatio(now.Sub(snap.LastAssistant), s.cfg.MinAIQuiet)
	}

	return math.Cbrt(userRatio * cooldownRatio * aiRatio)
}

func boundedRatio(elapsed, full time.Duration) float64 {
	if full <= 0 {
		return 1
	}
	if elapsed <= 0 {
		return 0
	}
	r := float64(elapsed) / float64(full)
	if r > 1 {
		r = 1
	}
	return r
}

func (s *Scheduler) inQuietHours(now time.Time) bool {
	start, okStart := parseClock(s.cfg.QuietStart)
	end, okEnd := parseClock(s.cfg.QuietEnd)
	if !okStart || !okEnd || start == end {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	// Window crosses midnight, e.g. 23:00-07:00.
	return minute >= start || minute < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
