// Package live abstracts one bidirectional streaming connection to the
// remote conversational service. The session orchestrator depends only on
// the Conn and Dialer interfaces here; the genai adapter implements them
// against the Gemini Live API.
package live

import "context"

// ToolCall is a server-requested tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers one ToolCall, keyed by the original call id.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Event is one inbound message. The three payload kinds are independent and
// non-exclusive: a single event may carry audio, transcript text and tool
// calls at once.
type Event struct {
	// Audio is raw PCM from the assistant voice, if any.
	Audio []byte

	// InputTranscription is the cumulative whole-so-far transcript of the
	// user's speech for the open turn.
	InputTranscription string
	// OutputTranscription is the cumulative transcript of the assistant's
	// speech for the open turn.
	OutputTranscription string

	// TurnComplete marks the end of the assistant's turn.
	TurnComplete bool
	// Interrupted is set when the user barged in over assistant audio.
	Interrupted bool

	// ToolCalls is a batch of tool invocations to be answered together.
	ToolCalls []ToolCall
}

// Conn is one live connection. Send methods may be called from multiple
// tasks; Receive must be called from a single reader.
type Conn interface {
	// SendMedia streams a realtime chunk (audio or video frame).
	SendMedia(data []byte, mimeType string) error
	// SendText sends a text message. endOfTurn marks it as a terminal
	// turn the model should respond to.
	SendText(text string, endOfTurn bool) error
	// SendToolResponses answers a batch of tool calls in one message.
	SendToolResponses(responses []ToolResponse) error
	// Receive blocks for the next inbound event. It returns an error when
	// the connection is closed or broken.
	Receive() (*Event, error)
	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// SessionParams configure one connection attempt.
type SessionParams struct {
	// SystemInstruction is the full system prompt, including any
	// personality context for this attempt.
	SystemInstruction string
}

// Dialer opens live connections. Each call returns a fresh Conn; the caller
// owns it exclusively until Close.
type Dialer interface {
	Dial(ctx context.Context, params SessionParams) (Conn, error)
}
