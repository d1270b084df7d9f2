package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ambient-labs/aria/internal/live"
	"github.com/ambient-labs/aria/internal/nudge"
	"github.com/ambient-labs/aria/internal/observability"
	"github.com/ambient-labs/aria/internal/transcript"
)

const (
	// Reconnect backoff doubles from initial to cap.
	initialBackoff = time.Second
	maxBackoff     = 10 * time.Second

	// outboundDepth bounds the per-connection send queue.
	outboundDepth = 100

	// nudgeTick is how often idle engagement is re-evaluated.
	nudgeTick = 500 * time.Millisecond

	// reasoningTick is how often the private-reflection heuristic runs;
	// reasoningIdle is how quiet the room must be before it triggers.
	reasoningTick = 30 * time.Second
	reasoningIdle = 90 * time.Second
)

type outKind int

const (
	outText outKind = iota
	outMedia
	outToolResponses
)

type outItem struct {
	kind      outKind
	text      string
	endOfTurn bool
	data      []byte
	mime      string
	responses []live.ToolResponse
	// dropKind labels best-effort items in metrics; empty means the item
	// must not be dropped.
	dropKind string
}

// Run connects and keeps the conversation alive until ctx is canceled.
// Each broken connection is re-dialed with exponential backoff, and the
// resumed conversation replays recent history so the model keeps context.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()

	backoff := initialBackoff
	reconnect := false

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connCtx, span := observability.StartSpan(ctx, "session.connect")
		conn, err := s.opts.Dialer.Dial(connCtx, live.SessionParams{
			SystemInstruction: s.systemInstruction(),
		})
		span.End()
		if err != nil {
			observability.RecordConnect(reconnect, "error")
			s.reportError(fmt.Errorf("connect: %w", err))
			log.Printf("[session] connect failed, retrying in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		observability.RecordConnect(reconnect, "ok")
		backoff = initialBackoff
		log.Printf("[session] connected (reconnect=%v)", reconnect)
		if s.opts.Callbacks.OnConnected != nil {
			s.opts.Callbacks.OnConnected(reconnect)
		}

		err = s.runConnection(ctx, conn, reconnect)
		_ = conn.Close()
		s.teardownConnection()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[session] connection ended, reconnecting: %v", err)
		reconnect = true
	}
}

// runConnection drives one live connection with a task group: a dedicated
// sender, the receive loop, capture tasks and the idle-engagement tick.
// Any task error tears the whole group down; capture devices degrade to
// disabled instead of failing the connection.
func (s *Session) runConnection(ctx context.Context, conn live.Conn, reconnect bool) error {
	g, gctx := errgroup.WithContext(ctx)

	out := make(chan outItem, outboundDepth)
	s.mu.Lock()
	s.out = out
	s.connCtx = gctx
	s.aiTurnOpen = false
	s.userSpeaking = false
	videoMode := s.videoMode
	s.mu.Unlock()

	if err := s.bootstrap(gctx, conn, reconnect); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	g.Go(func() error {
		// Receive has no context; closing the connection is what unblocks
		// it on cancellation.
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	g.Go(func() error {
		if err := s.senderTask(gctx, conn, out); err != nil {
			observability.RecordTaskFailure("sender")
			return fmt.Errorf("sender: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.receiveTask(gctx, conn); err != nil {
			observability.RecordTaskFailure("receive")
			return fmt.Errorf("receive: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.nudgeTask(gctx)
		return nil
	})
	g.Go(func() error {
		s.reasoningTask(gctx)
		return nil
	})
	if !s.opts.Audio.Disabled {
		g.Go(func() error {
			// Capture failures degrade: the session stays usable by text.
			if err := s.audioTask(gctx); err != nil {
				log.Printf("[session] audio capture disabled: %v", err)
			}
			return nil
		})
	}
	if videoMode == "camera" || videoMode == "screen" {
		g.Go(func() error {
			if err := s.videoTask(gctx, videoMode); err != nil {
				log.Printf("[session] video capture disabled: %v", err)
			}
			return nil
		})
	}

	err := g.Wait()

	// Commit whatever turn was mid-flight when the connection died.
	if turn, ok := s.turns.flush(s.now()); ok {
		s.commitTurn(turn)
	}
	return err
}

func (s *Session) teardownConnection() {
	s.mu.Lock()
	s.out = nil
	s.connCtx = nil
	player := s.player
	s.player = nil
	s.mu.Unlock()
	if player != nil {
		player.Close()
	}
}

// systemInstruction composes the per-attempt system prompt from the base
// prompt and live personality state.
func (s *Session) systemInstruction() string {
	parts := []string{s.opts.SystemPrompt}
	if s.opts.Personality != nil {
		if p := s.opts.Personality.ContextPrompt(); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// bootstrap primes a fresh connection. First connections get situational
// context and the opening message; reconnections reset transcript state and
// replay recent history so the model resumes mid-conversation.
func (s *Session) bootstrap(ctx context.Context, conn live.Conn, reconnect bool) error {
	if reconnect {
		s.inputRec.Reset()
		s.outputRec.Reset()
		s.turns = &turnBuffer{}

		replay := s.recentHistory(ctx)
		if replay != "" {
			if err := conn.SendText(replay, false); err != nil {
				return err
			}
		}
		return conn.SendText("System Notification: The connection dropped briefly and was restored. Continue the conversation naturally; do not mention the interruption.", true)
	}

	now := s.now()
	var notes []string
	notes = append(notes, fmt.Sprintf("The current date and time is %s.", now.Format("Monday, January 2 2006, 15:04")))

	if s.opts.Calendar != nil {
		if name, ok := s.opts.Calendar.SpecialDay(now); ok {
			notes = append(notes, fmt.Sprintf("Today is %s.", name))
		}
		if events := s.opts.Calendar.TodaysEvents(now); len(events) > 0 {
			var summaries []string
			for _, e := range events {
				summaries = append(summaries, e.Summary)
			}
			notes = append(notes, "Today's calendar: "+strings.Join(summaries, "; ")+".")
		}
	}

	s.mu.Lock()
	videoMode := s.videoMode
	s.mu.Unlock()
	switch videoMode {
	case "camera":
		notes = append(notes, "You can see the user through their camera.")
	case "screen":
		notes = append(notes, "You can see the user's screen. They may be working; be considerate about interrupting.")
	}

	if err := conn.SendText("System Notification: "+strings.Join(notes, " "), false); err != nil {
		return err
	}
	if s.opts.StartMessage != "" {
		return conn.SendText(s.opts.StartMessage, true)
	}
	return nil
}

// recentHistory renders the last ReplayTurns turns as a replay block.
func (s *Session) recentHistory(ctx context.Context) string {
	if s.opts.ChatLog == nil {
		return ""
	}
	turns, err := s.opts.ChatLog.Recent(ctx, s.opts.ReplayTurns)
	if err != nil {
		log.Printf("[session] history replay unavailable: %v", err)
		return ""
	}
	if len(turns) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("System Notification: Conversation so far (most recent last):\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Sender, t.Text)
	}
	return b.String()
}

// senderTask is the only writer on conn for queued traffic.
func (s *Session) senderTask(ctx context.Context, conn live.Conn, out <-chan outItem) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-out:
			var err error
			switch item.kind {
			case outText:
				err = conn.SendText(item.text, item.endOfTurn)
			case outMedia:
				err = conn.SendMedia(item.data, item.mime)
			case outToolResponses:
				err = conn.SendToolResponses(item.responses)
			}
			if err != nil {
				return err
			}
		}
	}
}

// receiveTask drives everything inbound: audio playback, transcript
// reconciliation, turn persistence and tool dispatch.
func (s *Session) receiveTask(ctx context.Context, conn live.Conn) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ev, err := conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if len(ev.Audio) > 0 {
			s.playAudio(ev.Audio)
		}

		if ev.InputTranscription != "" {
			s.applyTranscript(s.inputRec, "user", ev.InputTranscription)
		}
		if ev.OutputTranscription != "" {
			s.mu.Lock()
			s.aiTurnOpen = true
			s.mu.Unlock()
			s.applyTranscript(s.outputRec, "assistant", ev.OutputTranscription)
		}

		if ev.Interrupted {
			// Barge-in: stop speaking immediately and close the turn.
			s.mu.Lock()
			player := s.player
			s.mu.Unlock()
			if player != nil {
				player.Reset()
			}
			s.finishAssistantTurn()
		}
		if ev.TurnComplete {
			s.finishAssistantTurn()
		}

		if len(ev.ToolCalls) > 0 {
			_, span := observability.StartSpan(ctx, "session.tool_dispatch")
			responses := s.dispatchTools(ctx, ev.ToolCalls)
			span.End()
			if len(responses) > 0 {
				if err := s.enqueueToolResponses(responses); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Session) applyTranscript(rec *transcript.Reconciler, sender, cumulative string) {
	update, ok := rec.Apply(cumulative)
	if !ok {
		return
	}

	direction := "input"
	if sender == "assistant" {
		direction = "output"
	}
	observability.RecordTranscriptDelta(direction)

	for _, thought := range update.Thoughts {
		if s.opts.Callbacks.OnInternalThought != nil {
			s.opts.Callbacks.OnInternalThought(thought)
		}
	}
	if update.Delta == "" {
		return
	}

	if sender == "user" {
		s.opts.Clock.MarkUser(update.Delta)
	} else {
		s.opts.Clock.MarkAssistant()
	}

	isNew := s.turns.sender != sender
	if done, completed := s.turns.add(sender, update.Delta, update.IsCorrection, s.now()); completed {
		s.commitTurn(done)
	}
	s.emitTurn(Turn{Sender: sender, Text: update.Delta, IsCorrection: update.IsCorrection, IsNew: isNew})
}

// finishAssistantTurn closes the open turn and releases any deferred
// system notices. The cumulative transcripts are per-turn, so both
// reconcilers reset here: without that, a user repeating the previous
// utterance verbatim would diff to nothing.
func (s *Session) finishAssistantTurn() {
	s.inputRec.Reset()
	s.outputRec.Reset()
	if turn, ok := s.turns.flush(s.now()); ok {
		s.commitTurn(turn)
	}

	s.mu.Lock()
	s.aiTurnOpen = false
	pending := s.deferred
	s.deferred = nil
	s.mu.Unlock()

	for _, text := range pending {
		if err := s.enqueueText(text, true, false); err != nil {
			log.Printf("[session] deferred notice dropped: %v", err)
		}
	}
}

func (s *Session) dispatchTools(ctx context.Context, calls []live.ToolCall) []live.ToolResponse {
	if s.opts.Tools == nil {
		responses := make([]live.ToolResponse, 0, len(calls))
		for _, call := range calls {
			responses = append(responses, live.ToolResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: map[string]any{"error": "no tools available"},
			})
		}
		return responses
	}
	return s.opts.Tools.Dispatch(ctx, calls)
}

// nudgeTask re-evaluates idle engagement on a fixed tick.
func (s *Session) nudgeTask(ctx context.Context) {
	if s.opts.Nudges == nil {
		return
	}
	ticker := time.NewTicker(nudgeTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		st := nudge.State{
			Paused:       s.paused,
			UserSpeaking: s.userSpeaking,
			ScreenMode:   s.videoMode == "screen",
		}
		aiOpen := s.aiTurnOpen
		s.mu.Unlock()
		if aiOpen {
			continue
		}
		if s.opts.Personality != nil {
			st.Mood = s.opts.Personality.Mood()
		}

		decision, ok := s.opts.Nudges.Decide(st)
		if !ok {
			continue
		}
		if err := s.enqueueText(decision.Message, true, false); err != nil {
			continue
		}
		s.opts.Clock.RecordNudge()
		observability.RecordNudge()
		log.Printf("[session] nudge sent (topic %q)", decision.TopicHint)
	}
}

// reasoningTask asks the model for a private reflection when the room has
// been quiet for a while. The reply arrives in internal-thought tags and is
// surfaced through OnInternalThought, never spoken.
func (s *Session) reasoningTask(ctx context.Context) {
	ticker := time.NewTicker(reasoningTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		busy := s.paused || s.userSpeaking || s.aiTurnOpen
		s.mu.Unlock()
		if busy {
			continue
		}

		snap := s.opts.Clock.Snapshot()
		now := s.now()
		if now.Sub(snap.LastUser) < reasoningIdle || now.Sub(snap.LastAssistant) < reasoningIdle {
			continue
		}
		if !s.reasonLimiter.Allow() {
			continue
		}

		prompt := "System Notification: The room has been quiet for a while. Take a brief private moment to reflect on the conversation and the user. Respond only with your reflection wrapped in <internal></internal> tags; say nothing aloud."
		if err := s.enqueueText(prompt, true, false); err != nil {
			continue
		}
	}
}

// enqueueText queues a text message. mustDeliver selects blocking delivery;
// otherwise the item is dropped when the queue is full.
func (s *Session) enqueueText(text string, endOfTurn, mustDeliver bool) error {
	item := outItem{kind: outText, text: text, endOfTurn: endOfTurn}
	if !mustDeliver {
		item.dropKind = "text"
	}
	return s.enqueue(item)
}

func (s *Session) enqueueMedia(data []byte, mime, dropKind string) {
	// Drops are recorded inside enqueue for best-effort items.
	_ = s.enqueue(outItem{kind: outMedia, data: data, mime: mime, dropKind: dropKind})
}

func (s *Session) enqueueToolResponses(responses []live.ToolResponse) error {
	return s.enqueue(outItem{kind: outToolResponses, responses: responses})
}

func (s *Session) enqueue(item outItem) error {
	s.mu.Lock()
	out := s.out
	ctx := s.connCtx
	s.mu.Unlock()
	if out == nil || ctx == nil {
		return ErrNotConnected
	}

	if item.dropKind != "" {
		select {
		case out <- item:
			return nil
		default:
			observability.RecordOutboundDrop(item.dropKind)
			return errors.New("outbound queue full")
		}
	}

	select {
	case out <- item:
		return nil
	case <-ctx.Done():
		return ErrNotConnected
	}
}
