// Package session orchestrates one always-on companion conversation: it
// owns the live connection lifecycle, reconciles streaming transcripts,
// dispatches tool calls, persists finished turns, and injects proactive
// nudges and reminders into quiet moments.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ambient-labs/aria/internal/activity"
	"github.com/ambient-labs/aria/internal/calendar"
	"github.com/ambient-labs/aria/internal/chatlog"
	"github.com/ambient-labs/aria/internal/live"
	"github.com/ambient-labs/aria/internal/nudge"
	"github.com/ambient-labs/aria/internal/reminder"
	"github.com/ambient-labs/aria/internal/tooldispatch"
	"github.com/ambient-labs/aria/internal/transcript"
)

// ErrNotConnected is returned by send operations while no live connection
// is up.
var ErrNotConnected = errors.New("session is not connected")

// Turn is one finalized or in-progress transcript fragment surfaced to the
// host UI.
type Turn struct {
	// Sender is "user" or "assistant".
	Sender string
	// Text is the incremental delta, or the full replacement text when
	// IsCorrection is set.
	Text string
	IsCorrection bool
	// IsNew marks the first fragment of a turn.
	IsNew bool
}

// Memory is the long-term memory collaborator.
type Memory interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
	// Observe feeds one finished turn into memory consolidation.
	Observe(ctx context.Context, sender, text string) error
}

// Personality is the emotional-state collaborator.
type Personality interface {
	// ContextPrompt returns persona state to append to the system prompt.
	ContextPrompt() string
	// Mood returns the current mood label, if any.
	Mood() string
	// ObserveMessage lets the personality react to a finished turn.
	ObserveMessage(sender, text string)
}

// Callbacks surface session activity to the host UI. Nil fields are
// skipped. Callbacks run on session goroutines and must not block.
type Callbacks struct {
	OnTranscription    func(Turn)
	OnInternalThought  func(string)
	OnToolConfirmation func(tooldispatch.ConfirmationRequest)
	OnReminderFired    func(reminder.Reminder)
	OnConnected        func(reconnect bool)
	OnError            func(error)
}

// AudioOptions tune microphone capture and local playback.
type AudioOptions struct {
	Disabled         bool
	PlaybackDisabled bool
	InputDevice      string
	// VADThreshold is the RMS amplitude above which the user counts as
	// speaking.
	VADThreshold int
	// Silence is how long below threshold ends a speech segment.
	Silence time.Duration
}

// VideoOptions tune camera or screen capture.
type VideoOptions struct {
	// Mode is "off", "camera" or "screen".
	Mode   string
	FPS    float64
	Device string
}

// Options wire a Session to its collaborators.
type Options struct {
	Dialer live.Dialer
	Tools  *tooldispatch.Table

	ChatLog     chatlog.Log
	Memory      Memory
	Personality Personality
	Calendar    *calendar.Store
	Reminders   *reminder.Store

	Clock  *activity.Clock
	Nudges *nudge.Scheduler

	Audio AudioOptions
	Video VideoOptions

	// SystemPrompt is the base system instruction for every connection.
	SystemPrompt string
	// StartMessage opens the very first conversation of a run.
	StartMessage string
	// ReplayTurns is how much history a reconnect replays.
	ReplayTurns int

	Callbacks Callbacks
}

// Session is the conversation orchestrator. One Session spans many live
// connections; Run keeps reconnecting until its context is canceled.
type Session struct {
	opts Options

	mu           sync.Mutex
	out          chan outItem
	connCtx      context.Context
	paused       bool
	videoMode    string
	userSpeaking bool
	aiTurnOpen   bool
	deferred     []string

	inputRec  *transcript.Reconciler
	outputRec *transcript.Reconciler
	turns     *turnBuffer

	player *pcmPlayer

	// noticeLimiter bounds how fast asynchronous system notices (background
	// tools, reminders) may be injected.
	noticeLimiter *rate.Limiter
	// reasonLimiter bounds how often the session asks the model for a
	// private reflection during long silences.
	reasonLimiter *rate.Limiter

	stop context.CancelFunc

	now func() time.Time
}

// New creates a Session and wires the tool table's confirmation and
// notification paths into it.
func New(opts Options) (*Session, error) {
	if opts.Dialer == nil {
		return nil, errors.New("session needs a dialer")
	}
	if opts.Clock == nil {
		opts.Clock = activity.NewClock(activity.DefaultTopicMemorySize)
	}
	if opts.ReplayTurns <= 0 {
		opts.ReplayTurns = 10
	}
	if opts.Audio.VADThreshold <= 0 {
		opts.Audio.VADThreshold = 800
	}
	if opts.Audio.Silence <= 0 {
		opts.Audio.Silence = 1200 * time.Millisecond
	}
	if opts.Video.Mode == "" {
		opts.Video.Mode = "off"
	}

	s := &Session{
		opts:          opts,
		videoMode:     opts.Video.Mode,
		inputRec:      transcript.NewReconciler(transcript.Input),
		outputRec:     transcript.NewReconciler(transcript.Output),
		turns:         &turnBuffer{},
		noticeLimiter: rate.NewLimiter(rate.Every(2*time.Second), 3),
		reasonLimiter: rate.NewLimiter(rate.Every(4*time.Minute), 1),
		now:           time.Now,
	}

	if opts.Tools != nil {
		if opts.Callbacks.OnToolConfirmation != nil {
			opts.Tools.SetConfirmationCallback(opts.Callbacks.OnToolConfirmation)
		}
		opts.Tools.SetNotifier(s.NotifySystem)
	}
	if opts.Reminders != nil {
		opts.Reminders.SetOnFired(s.handleReminder)
	}

	return s, nil
}

// Stop ends Run: the live connection is closed and no reconnect follows.
// Safe to call more than once and before Run starts.
func (s *Session) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// ResolveToolConfirmation completes a pending tool confirmation surfaced
// through OnToolConfirmation.
func (s *Session) ResolveToolConfirmation(id string, confirmed bool) {
	if s.opts.Tools != nil {
		s.opts.Tools.Resolve(id, confirmed)
	}
}

// UpdateToolPermissions replaces the tool confirmation policy.
func (s *Session) UpdateToolPermissions(perms map[string]bool) {
	if s.opts.Tools != nil {
		s.opts.Tools.UpdatePermissions(perms)
	}
}

// SetPaused suspends or resumes proactive behavior. A paused session still
// relays user speech.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// SetVideoMode switches video capture for subsequent connections and
// adjusts nudge pacing immediately. Mode is "off", "camera" or "screen".
func (s *Session) SetVideoMode(mode string) {
	s.mu.Lock()
	s.videoMode = mode
	s.mu.Unlock()
}

// SendText sends a typed user message as a terminal turn. Relevant
// memories, when available, are injected as context first.
func (s *Session) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if s.opts.Memory != nil {
		if memories, err := s.opts.Memory.Search(ctx, text, 3); err != nil {
			log.Printf("[session] memory search: %v", err)
		} else if len(memories) > 0 {
			note := "System Notification: Relevant memories:\n- " + strings.Join(memories, "\n- ")
			if err := s.enqueueText(note, false, true); err != nil {
				return err
			}
		}
	}

	s.opts.Clock.MarkUser(text)
	s.emitTurn(Turn{Sender: "user", Text: text, IsNew: true})
	if err := s.enqueueText(text, true, true); err != nil {
		return err
	}

	// Typed turns never pass through the transcript reconcilers, so they
	// are committed here or they would be missing from replay and memory.
	s.commitTurn(chatlog.Turn{Sender: "user", Text: text, Timestamp: s.now()})
	return nil
}

// PushFrame feeds one externally captured video frame (e.g. from the host
// UI) into the live stream. Frames are best-effort and may be dropped under
// backpressure.
func (s *Session) PushFrame(data []byte, mimeType string) {
	s.enqueueMedia(data, mimeType, "frame")
}

// NotifySystem injects an asynchronous system notice (background tool
// results, host events). While the assistant's turn is open the notice is
// deferred until the turn completes.
func (s *Session) NotifySystem(text string) {
	if text == "" {
		return
	}
	if !strings.HasPrefix(text, "System Notification:") {
		text = "System Notification: " + text
	}

	s.mu.Lock()
	if s.aiTurnOpen {
		s.deferred = append(s.deferred, text)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.noticeLimiter.Allow() {
		s.mu.Lock()
		s.deferred = append(s.deferred, text)
		s.mu.Unlock()
		return
	}
	if err := s.enqueueText(text, true, false); err != nil {
		log.Printf("[session] system notice dropped: %v", err)
	}
}

func (s *Session) handleReminder(r reminder.Reminder) {
	if s.opts.Callbacks.OnReminderFired != nil {
		s.opts.Callbacks.OnReminderFired(r)
	}
	s.NotifySystem(fmt.Sprintf("A reminder just fired: %q. Tell the user about it now.", r.Message))
}

func (s *Session) emitTurn(t Turn) {
	if s.opts.Callbacks.OnTranscription != nil {
		s.opts.Callbacks.OnTranscription(t)
	}
}

func (s *Session) reportError(err error) {
	if s.opts.Callbacks.OnError != nil {
		s.opts.Callbacks.OnError(err)
	}
}

// commitTurn persists one finished turn everywhere that tracks history.
func (s *Session) commitTurn(t chatlog.Turn) {
	if t.Text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.opts.ChatLog != nil {
		if err := s.opts.ChatLog.Append(ctx, t); err != nil {
			log.Printf("[session] chat log append: %v", err)
		}
	}
	if s.opts.Memory != nil {
		if err := s.opts.Memory.Observe(ctx, t.Sender, t.Text); err != nil {
			log.Printf("[session] memory observe: %v", err)
		}
	}
	if s.opts.Personality != nil {
		s.opts.Personality.ObserveMessage(t.Sender, t.Text)
	}
}

// turnBuffer accumulates streaming deltas into whole turns. A turn
// completes when the speaker changes or the buffer is flushed.
type turnBuffer struct {
	sender string
	text   string
}

// add applies one delta and returns the previous turn when it completed.
func (b *turnBuffer) add(sender, delta string, correction bool, at time.Time) (chatlog.Turn, bool) {
	var done chatlog.Turn
	completed := false

	if b.sender != "" && b.sender != sender && strings.TrimSpace(b.text) != "" {
		done = chatlog.Turn{Sender: b.sender, Text: strings.TrimSpace(b.text), Timestamp: at}
		completed = true
		b.text = ""
	}
	b.sender = sender
	if correction {
		b.text = delta
	} else {
		b.text += delta
	}
	return done, completed
}

// flush completes the open turn, if any, and clears the buffer so the next
// fragment starts a fresh turn.
func (b *turnBuffer) flush(at time.Time) (chatlog.Turn, bool) {
	sender := b.sender
	text := strings.TrimSpace(b.text)
	b.sender = ""
	b.text = ""
	if sender == "" || text == "" {
		return chatlog.Turn{}, false
	}
	return chatlog.Turn{Sender: sender, Text: text, Timestamp: at}, true
}
