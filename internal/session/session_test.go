package session

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambient-labs/aria/internal/chatlog"
	"github.com/ambient-labs/aria/internal/live"
	"github.com/ambient-labs/aria/internal/tooldispatch"
)

type sentText struct {
	text      string
	endOfTurn bool
}

type fakeConn struct {
	events chan *live.Event

	mu        sync.Mutex
	texts     []sentText
	toolResps [][]live.ToolResponse

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan *live.Event, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) SendMedia([]byte, string) error { return nil }

func (c *fakeConn) SendText(text string, endOfTurn bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, sentText{text: text, endOfTurn: endOfTurn})
	return nil
}

func (c *fakeConn) SendToolResponses(responses []live.ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolResps = append(c.toolResps, responses)
	return nil
}

func (c *fakeConn) Receive() (*live.Event, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentTexts() []sentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentText(nil), c.texts...)
}

func (c *fakeConn) sentToolResponses() [][]live.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]live.ToolResponse(nil), c.toolResps...)
}

// drop ends the connection the way a network failure would.
func (c *fakeConn) drop() {
	close(c.events)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(context.Context, live.SessionParams) (live.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	d.dials++
	return conn, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeMemory struct {
	mu       sync.Mutex
	results  []string
	observed []string
}

func (m *fakeMemory) Search(context.Context, string, int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results, nil
}

func (m *fakeMemory) Observe(_ context.Context, sender, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed = append(m.observed, sender+": "+text)
	return nil
}

func (m *fakeMemory) setResults(results []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
}

func (m *fakeMemory) observedTurns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.observed...)
}

type harness struct {
	session *Session
	dialer  *fakeDialer
	log     chatlog.Log
	memory  *fakeMemory

	turns   chan Turn
	cancel  context.CancelFunc
	runDone chan error
}

func startSession(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	log, err := chatlog.NewFileLog(filepath.Join(t.TempDir(), "chatlog.jsonl"))
	require.NoError(t, err)

	h := &harness{
		dialer: &fakeDialer{},
		log:    log,
		memory: &fakeMemory{},
		turns:  make(chan Turn, 64),
	}

	opts := Options{
		Dialer:       h.dialer,
		ChatLog:      log,
		Memory:       h.memory,
		SystemPrompt: "You are a helpful companion.",
		StartMessage: "Say hello.",
		Audio:        AudioOptions{Disabled: true},
		Callbacks: Callbacks{
			OnTranscription: func(turn Turn) { h.turns <- turn },
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := New(opts)
	require.NoError(t, err)
	h.session = s

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.runDone = make(chan error, 1)
	go func() { h.runDone <- s.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runDone:
		case <-time.After(5 * time.Second):
			t.Error("session did not stop")
		}
		_ = log.Close()
	})

	require.Eventually(t, func() bool { return h.dialer.dialCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
	return h
}

func (h *harness) waitForConn(t *testing.T, n int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool { return h.dialer.dialCount() >= n }, 2*time.Second, 5*time.Millisecond)
	return h.dialer.conn(n - 1)
}

func nextTurn(t *testing.T, ch chan Turn) Turn {
	t.Helper()
	select {
	case turn := <-ch:
		return turn
	case <-time.After(2 * time.Second):
		t.Fatal("no turn arrived")
		return Turn{}
	}
}

func textsContain(texts []sentText, substr string) bool {
	for _, st := range texts {
		if strings.Contains(st.text, substr) {
			return true
		}
	}
	return false
}

func TestBootstrapSendsContextAndStartMessage(t *testing.T) {
	h := startSession(t, nil)
	conn := h.waitForConn(t, 1)

	require.Eventually(t, func() bool { return len(conn.sentTexts()) >= 2 }, 2*time.Second, 5*time.Millisecond)

	texts := conn.sentTexts()
	assert.Contains(t, texts[0].text, "System Notification:")
	assert.Contains(t, texts[0].text, "current date and time")
	assert.False(t, texts[0].endOfTurn)
	assert.Equal(t, "Say hello.", texts[1].text)
	assert.True(t, texts[1].endOfTurn)
}

func TestTranscriptsFlowToCallbacksAndLog(t *testing.T) {
	h := startSession(t, nil)
	conn := h.waitForConn(t, 1)

	conn.events <- &live.Event{InputTranscription: "Hello"}
	conn.events <- &live.Event{InputTranscription: "Hello there"}
	conn.events <- &live.Event{OutputTranscription: "Hi! How"}
	conn.events <- &live.Event{OutputTranscription: "Hi! How are you?"}
	conn.events <- &live.Event{TurnComplete: true}

	var got []Turn
	require.Eventually(t, func() bool {
		for {
			select {
			case turn := <-h.turns:
				got = append(got, turn)
			default:
				return len(got) >= 4
			}
		}
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, Turn{Sender: "user", Text: "Hello", IsNew: true}, got[0])
	assert.Equal(t, Turn{Sender: "user", Text: " there"}, got[1])
	assert.Equal(t, Turn{Sender: "assistant", Text: "Hi! How", IsNew: true}, got[2])
	assert.Equal(t, Turn{Sender: "assistant", Text: " are you?"}, got[3])

	// Both whole turns end up in the chat log once the assistant finishes.
	require.Eventually(t, func() bool {
		turns, err := h.log.Recent(context.Background(), 10)
		return err == nil && len(turns) == 2
	}, 2*time.Second, 5*time.Millisecond)

	turns, err := h.log.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "user", turns[0].Sender)
	assert.Equal(t, "Hello there", turns[0].Text)
	assert.Equal(t, "assistant", turns[1].Sender)
	assert.Equal(t, "Hi! How are you?", turns[1].Text)
}

func TestInternalThoughtsSurfacedNotSpoken(t *testing.T) {
	thoughts := make(chan string, 8)
	h := startSession(t, func(o *Options) {
		o.Callbacks.OnInternalThought = func(text string) { thoughts <- text }
	})
	conn := h.waitForConn(t, 1)

	conn.events <- &live.Event{OutputTranscription: "<internal>they seem tired</internal>Long day?"}

	select {
	case thought := <-thoughts:
		assert.Equal(t, "they seem tired", thought)
	case <-time.After(2 * time.Second):
		t.Fatal("thought never surfaced")
	}

	turn := <-h.turns
	assert.Equal(t, "assistant", turn.Sender)
	assert.Equal(t, "Long day?", turn.Text)
}

func TestToolCallsDispatchedAndAnswered(t *testing.T) {
	table := tooldispatch.NewTable()
	table.Register("echo", func(_ context.Context, call live.ToolCall) (map[string]any, error) {
		return map[string]any{"result": call.Args["msg"]}, nil
	})
	table.UpdatePermissions(map[string]bool{"echo": false})

	h := startSession(t, func(o *Options) { o.Tools = table })
	conn := h.waitForConn(t, 1)

	conn.events <- &live.Event{ToolCalls: []live.ToolCall{
		{ID: "c1", Name: "echo", Args: map[string]any{"msg": "ping"}},
	}}

	require.Eventually(t, func() bool { return len(conn.sentToolResponses()) == 1 }, 2*time.Second, 5*time.Millisecond)
	batch := conn.sentToolResponses()[0]
	require.Len(t, batch, 1)
	assert.Equal(t, "c1", batch[0].ID)
	assert.Equal(t, "ping", batch[0].Response["result"])
}

func TestReconnectReplaysHistoryAndResetsState(t *testing.T) {
	h := startSession(t, nil)
	conn1 := h.waitForConn(t, 1)

	conn1.events <- &live.Event{InputTranscription: "Remember the milk"}
	conn1.events <- &live.Event{OutputTranscription: "Noted!"}
	conn1.events <- &live.Event{TurnComplete: true}

	require.Eventually(t, func() bool {
		turns, err := h.log.Recent(context.Background(), 10)
		return err == nil && len(turns) == 2
	}, 2*time.Second, 5*time.Millisecond)

	conn1.drop()
	conn2 := h.waitForConn(t, 2)

	require.Eventually(t, func() bool { return len(conn2.sentTexts()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	texts := conn2.sentTexts()

	require.True(t, textsContain(texts, "Conversation so far"))
	require.True(t, textsContain(texts, "user: Remember the milk"))
	require.True(t, textsContain(texts, "assistant: Noted!"))
	assert.True(t, textsContain(texts, "Continue the conversation naturally"))
	// The fresh-session opener must not be resent.
	assert.False(t, textsContain(texts, "Say hello."))

	// Transcript state reset: the same cumulative snapshot is a new turn,
	// not a diff against the previous connection.
	conn2.events <- &live.Event{InputTranscription: "Remember the milk"}
	turn := <-h.turns
	assert.Equal(t, "Remember the milk", turn.Text)
	assert.True(t, turn.IsNew)

	// No duplicate history was written by the replay itself.
	turns, err := h.log.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestTranscriptStateResetsEachTurn(t *testing.T) {
	h := startSession(t, nil)
	conn := h.waitForConn(t, 1)

	conn.events <- &live.Event{InputTranscription: "Hello there"}
	nextTurn(t, h.turns)
	conn.events <- &live.Event{TurnComplete: true}

	// A verbatim repeat of the previous turn is a fresh turn, not an
	// empty diff against stale cumulative state.
	conn.events <- &live.Event{InputTranscription: "Hello there"}
	turn := nextTurn(t, h.turns)
	assert.Equal(t, Turn{Sender: "user", Text: "Hello there", IsNew: true}, turn)

	conn.events <- &live.Event{TurnComplete: true}

	// A next-turn utterance that prefixes the previous one is not a
	// correction of it.
	conn.events <- &live.Event{InputTranscription: "Hello"}
	turn = nextTurn(t, h.turns)
	assert.True(t, turn.IsNew)
	assert.False(t, turn.IsCorrection)
	assert.Equal(t, "Hello", turn.Text)

	// Every completed turn landed in the chat log.
	require.Eventually(t, func() bool {
		turns, err := h.log.Recent(context.Background(), 10)
		return err == nil && len(turns) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSendTextCommittedToHistory(t *testing.T) {
	h := startSession(t, nil)
	h.waitForConn(t, 1)

	require.NoError(t, h.session.SendText(context.Background(), "I adopted a cat named Miso"))

	turns, err := h.log.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "user", turns[0].Sender)
	assert.Equal(t, "I adopted a cat named Miso", turns[0].Text)

	assert.Contains(t, h.memory.observedTurns(), "user: I adopted a cat named Miso")
}

func TestSendTextInjectsMemoryContext(t *testing.T) {
	h := startSession(t, nil)
	conn := h.waitForConn(t, 1)
	h.memory.setResults([]string{"user dislikes mornings"})

	require.NoError(t, h.session.SendText(context.Background(), "good morning"))

	require.Eventually(t, func() bool {
		return textsContain(conn.sentTexts(), "good morning")
	}, 2*time.Second, 5*time.Millisecond)

	texts := conn.sentTexts()
	var memoryIdx, textIdx = -1, -1
	for i, st := range texts {
		if strings.Contains(st.text, "Relevant memories") {
			memoryIdx = i
		}
		if st.text == "good morning" {
			textIdx = i
			assert.True(t, st.endOfTurn)
		}
	}
	require.GreaterOrEqual(t, memoryIdx, 0, "memory context not sent")
	require.GreaterOrEqual(t, textIdx, 0)
	assert.Less(t, memoryIdx, textIdx, "memory context must precede the message")
	assert.False(t, texts[memoryIdx].endOfTurn)
}

func TestSystemNoticesDeferredWhileAssistantSpeaks(t *testing.T) {
	h := startSession(t, nil)
	conn := h.waitForConn(t, 1)

	conn.events <- &live.Event{OutputTranscription: "Let me think"}
	<-h.turns // wait until the assistant turn is open

	h.session.NotifySystem("the build finished")
	time.Sleep(50 * time.Millisecond)
	assert.False(t, textsContain(conn.sentTexts(), "the build finished"))

	conn.events <- &live.Event{TurnComplete: true}
	require.Eventually(t, func() bool {
		return textsContain(conn.sentTexts(), "the build finished")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSendTextWhileDisconnected(t *testing.T) {
	log, err := chatlog.NewFileLog(filepath.Join(t.TempDir(), "chatlog.jsonl"))
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	s, err := New(Options{
		Dialer:  &fakeDialer{},
		ChatLog: log,
		Audio:   AudioOptions{Disabled: true},
	})
	require.NoError(t, err)

	err = s.SendText(context.Background(), "anyone there?")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStopEndsRunWithoutReconnect(t *testing.T) {
	h := startSession(t, nil)
	h.waitForConn(t, 1)

	h.session.Stop()

	select {
	case err := <-h.runDone:
		assert.ErrorIs(t, err, context.Canceled)
		h.runDone <- err // let the harness cleanup observe the exit too
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestTurnBuffer(t *testing.T) {
	b := &turnBuffer{}
	at := time.Now()

	_, done := b.add("user", "Hello", false, at)
	assert.False(t, done)
	_, done = b.add("user", " world", false, at)
	assert.False(t, done)

	turn, done := b.add("assistant", "Hi", false, at)
	require.True(t, done)
	assert.Equal(t, "user", turn.Sender)
	assert.Equal(t, "Hello world", turn.Text)

	// Corrections replace the accumulated text.
	_, done = b.add("assistant", "Hiya", true, at)
	assert.False(t, done)

	turn, ok := b.flush(at)
	require.True(t, ok)
	assert.Equal(t, "assistant", turn.Sender)
	assert.Equal(t, "Hiya", turn.Text)

	_, ok = b.flush(at)
	assert.False(t, ok)
}

func TestVoiceDetector(t *testing.T) {
	now := time.Unix(0, 0)
	v := &voiceDetector{
		threshold: 800,
		silence:   1200 * time.Millisecond,
		now:       func() time.Time { return now },
	}

	quiet := pcmChunk(0, 160)
	loud := pcmChunk(4000, 160)

	speaking, changed := v.observe(quiet)
	assert.False(t, speaking)
	assert.False(t, changed)

	speaking, changed = v.observe(loud)
	assert.True(t, speaking)
	assert.True(t, changed)

	// Short pauses do not end the segment.
	now = now.Add(500 * time.Millisecond)
	speaking, changed = v.observe(quiet)
	assert.True(t, speaking)
	assert.False(t, changed)

	// A long quiet stretch does.
	now = now.Add(1300 * time.Millisecond)
	speaking, changed = v.observe(quiet)
	assert.False(t, speaking)
	assert.True(t, changed)
}

func TestRMSAmplitude(t *testing.T) {
	assert.Equal(t, 0.0, rmsAmplitude(nil))
	assert.InDelta(t, 1000.0, rmsAmplitude(pcmChunk(1000, 320)), 1)
}

// pcmChunk builds a constant-amplitude s16le buffer.
func pcmChunk(amplitude int16, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		out[i*2] = byte(uint16(amplitude))
		out[i*2+1] = byte(uint16(amplitude) >> 8)
	}
	return out
}
