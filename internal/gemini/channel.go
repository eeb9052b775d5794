package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brandloom-ai/brandloom/internal/tools"
)

const (
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultModel    = "models/gemini-2.0-flash-live-001"
	defaultVoice    = "Puck"

	defaultConnectTimeout = 15 * time.Second
	defaultSettleDelay    = 500 * time.Millisecond

	captureMimeType = "audio/pcm;rate=16000"

	// The service waits indefinitely for the first turn; this synthetic
	// utterance kicks off the conversation after the settle delay.
	openingUtterance = "Hello! I'm ready to start building my brand."
)

// Config describes one live channel connection.
type Config struct {
	APIKey       string
	Model        string // defaults to defaultModel
	Endpoint     string // overridable for tests; defaults to the Google endpoint
	Voice        string // prebuilt voice name, defaults to defaultVoice
	SystemPrompt string
	Declarations []tools.Declaration

	SettleDelay    time.Duration // delay before the synthetic opening utterance
	ConnectTimeout time.Duration
	Logger         *log.Logger
}

// Channel is one long-lived duplex connection to the Gemini Live service.
// Events are consumed from Events(); sends are safe from any goroutine.
type Channel struct {
	cfg    Config
	conn   *websocket.Conn
	logger *log.Logger

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	kickoff   *time.Timer

	errMu sync.Mutex
	err   error
}

// Dial opens the channel: websocket dial, setup exchange, then the read loop.
// A setup failure is fatal to the open attempt; the caller reports it to the
// client and the session stays idle.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	wsURL := cfg.Endpoint
	if cfg.APIKey != "" {
		wsURL += "?key=" + cfg.APIKey
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gemini: dial live endpoint (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("gemini: dial live endpoint: %w", err)
	}

	setup := setupMessage{Setup: setupPayload{
		Model: cfg.Model,
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: &voiceConfig{
					PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: cfg.Voice},
				},
			},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}}
	if cfg.SystemPrompt != "" {
		setup.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemPrompt}}}
	}
	if len(cfg.Declarations) > 0 {
		setup.Setup.Tools = []toolBundle{{FunctionDeclarations: cfg.Declarations}}
	}

	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gemini: send setup: %w", err)
	}

	// The first frame must acknowledge setup before anything else flows.
	_ = conn.SetReadDeadline(time.Now().Add(cfg.ConnectTimeout))
	var first serverFrame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gemini: read setup ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if first.SetupComplete == nil {
		conn.Close()
		return nil, fmt.Errorf("gemini: unexpected first frame before setupComplete")
	}

	ch := &Channel{
		cfg:    cfg,
		conn:   conn,
		logger: cfg.Logger,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}

	ch.kickoff = time.AfterFunc(cfg.SettleDelay, func() {
		if ch.closed.Load() {
			return
		}
		if err := ch.SendText(openingUtterance, true); err != nil {
			ch.logger.Printf("[Gemini] opening utterance failed: %v", err)
		}
	})

	go ch.readLoop()
	return ch, nil
}

// Events yields demultiplexed channel events. The channel is closed after a
// ClosedEvent is emitted.
func (c *Channel) Events() <-chan Event {
	if c == nil {
		return nil
	}
	return c.events
}

// SendAudio forwards one capture frame (16 kHz mono PCM16) upstream.
func (c *Channel) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.sendJSON(realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []inlineData{{
			MimeType: captureMimeType,
			Data:     base64.StdEncoding.EncodeToString(pcm),
		}},
	}})
}

// SendText injects a user-authored text turn. endTurn marks the turn complete
// so the model responds immediately.
func (c *Channel) SendText(text string, endTurn bool) error {
	return c.sendJSON(clientContentMessage{ClientContent: clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: endTurn,
	}})
}

// SendToolResults acknowledges applied tool calls. The model blocks its turn
// until this round-trip completes.
func (c *Channel) SendToolResults(results []tools.Result) error {
	if len(results) == 0 {
		return nil
	}
	responses := make([]functionResponse, 0, len(results))
	for _, r := range results {
		responses = append(responses, functionResponse{
			ID:   r.ID,
			Name: r.Name,
			Response: map[string]any{
				"status": r.Status,
				"args":   r.Args,
			},
		})
	}
	return c.sendJSON(toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: responses}})
}

func (c *Channel) sendJSON(v any) error {
	if c == nil {
		return fmt.Errorf("gemini: channel is nil")
	}
	if c.closed.Load() {
		return fmt.Errorf("gemini: channel is closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Close shuts the connection down and waits for the read loop to exit.
// Safe to call multiple times.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.kickoff != nil {
			c.kickoff.Stop()
		}
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

// Err returns the terminal channel error, if any, once the channel is done.
func (c *Channel) Err() error {
	if c == nil {
		return nil
	}
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		var frame serverFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(ClosedEvent{Reason: "closed"})
				return
			}
			c.setErr(err)
			c.emit(ErrorEvent{Err: err})
			c.emit(ClosedEvent{Reason: err.Error()})
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Channel) handleFrame(frame serverFrame) {
	if sc := frame.ServerContent; sc != nil {
		if sc.Interrupted {
			c.emit(InterruptedEvent{})
		}
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			c.emit(TranscriptOutEvent{Role: "user", Text: t.Text, Partial: !t.Finished})
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			c.emit(TranscriptOutEvent{Role: "model", Text: t.Text, Partial: !sc.TurnComplete})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil {
					pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err != nil || len(pcm) == 0 {
						continue // corrupt audio chunk, drop it
					}
					c.emit(AudioOutEvent{PCM: pcm})
				}
				if p.Text != "" {
					c.emit(TranscriptOutEvent{Role: "model", Text: p.Text, Partial: true})
				}
			}
		}
		if sc.TurnComplete {
			c.emit(TurnCompleteEvent{})
		}
	}

	if tc := frame.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]tools.Call, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			calls = append(calls, tools.Call{ID: fc.ID, Name: fc.Name, Args: args})
		}
		c.emit(ToolCallRequestedEvent{Calls: calls})
	}

	if frame.GoAway != nil {
		c.logger.Printf("[Gemini] goAway received, time left: %s", frame.GoAway.TimeLeft)
	}
}

func (c *Channel) emit(event Event) {
	select {
	case c.events <- event:
	default:
		// Never let a stalled consumer deadlock the read loop.
		c.logger.Printf("[Gemini] event dropped: consumer not keeping up (%s)", event.eventType())
	}
}
