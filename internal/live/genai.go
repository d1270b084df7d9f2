package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"
)

const dialTimeout = 30 * time.Second

// GenAIConfig configures the Gemini Live dialer.
type GenAIConfig struct {
	// APIKey authenticates against the Gemini API.
	APIKey string
	// Model is the live model id, e.g.
	// "gemini-2.0-flash-live-001".
	Model string
	// Voice selects the prebuilt voice for audio responses.
	Voice string
	// Tools declares the callable tools for the session.
	Tools []*genai.FunctionDeclaration
}

// GenAIDialer opens Gemini Live API connections.
type GenAIDialer struct {
	client *genai.Client
	cfg    GenAIConfig
}

// NewGenAIDialer creates the shared client once; individual connections are
// opened per Dial.
func NewGenAIDialer(ctx context.Context, cfg GenAIConfig) (*GenAIDialer, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("live model is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GenAIDialer{client: client, cfg: cfg}, nil
}

// Dial opens one live session.
func (d *GenAIDialer) Dial(ctx context.Context, params SessionParams) (Conn, error) {
	config := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
	}
	if params.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(params.SystemInstruction, genai.RoleUser)
	}
	if len(d.cfg.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: d.cfg.Tools}}
	}
	if d.cfg.Voice != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: d.cfg.Voice},
			},
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	session, err := d.client.Live.Connect(dialCtx, d.cfg.Model, config)
	if err != nil {
		return nil, fmt.Errorf("live connect: %w", err)
	}
	return &genaiConn{session: session}, nil
}

// genaiConn adapts *genai.Session to Conn. Writes are serialized; the
// session orchestrator's sender task is the main writer but tool responses
// and system messages may come from other tasks.
type genaiConn struct {
	session *genai.Session

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *genaiConn) SendMedia(data []byte, mimeType string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (c *genaiConn) SendText(text string, endOfTurn bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: genai.Ptr(endOfTurn),
	})
}

func (c *genaiConn) SendToolResponses(responses []ToolResponse) error {
	frs := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		frs = append(frs, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: r.Response,
		})
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: frs})
}

func (c *genaiConn) Receive() (*Event, error) {
	msg, err := c.session.Receive()
	if err != nil {
		return nil, fmt.Errorf("live receive: %w", err)
	}
	return translate(msg), nil
}

func (c *genaiConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

// translate maps a wire message onto the transport-neutral Event.
func translate(msg *genai.LiveServerMessage) *Event {
	ev := &Event{}

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil {
			ev.InputTranscription = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			ev.OutputTranscription = sc.OutputTranscription.Text
		}
		ev.TurnComplete = sc.TurnComplete
		ev.Interrupted = sc.Interrupted

		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					ev.Audio = append(ev.Audio, part.InlineData.Data...)
				}
			}
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			ev.ToolCalls = append(ev.ToolCalls, ToolCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
	}

	return ev
}
