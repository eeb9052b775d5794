package session_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brandloom-ai/brandloom/internal/audio"
	"github.com/brandloom-ai/brandloom/internal/brand"
	"github.com/brandloom-ai/brandloom/internal/decision"
	"github.com/brandloom-ai/brandloom/internal/eventbus"
	"github.com/brandloom-ai/brandloom/internal/gemini"
	"github.com/brandloom-ai/brandloom/internal/protocol"
	"github.com/brandloom-ai/brandloom/internal/session"
	"github.com/brandloom-ai/brandloom/internal/tools"
)

// fakeSender records everything the coordinator sends to the client.
type fakeSender struct {
	mu   sync.Mutex
	msgs []protocol.ServerMessage
}

func (f *fakeSender) Send(msg protocol.ServerMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeSender) byType(typ string) []protocol.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.ServerMessage
	for _, m := range f.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// wait polls until at least one message of the given type arrived.
func (f *fakeSender) wait(t *testing.T, typ string) protocol.ServerMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := f.byType(typ); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s message", typ)
	return protocol.ServerMessage{}
}

// fakeUpstream is an in-memory stand-in for the live channel. Tests inject
// model events on the events channel and inspect what the coordinator sent.
type fakeUpstream struct {
	events    chan gemini.Event
	closeOnce sync.Once

	mu      sync.Mutex
	audio   [][]byte
	texts   []string
	results [][]tools.Result
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan gemini.Event, 64)}
}

func (f *fakeUpstream) Events() <-chan gemini.Event { return f.events }

func (f *fakeUpstream) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *fakeUpstream) SendText(text string, endTurn bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeUpstream) SendToolResults(results []tools.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, results)
	return nil
}

func (f *fakeUpstream) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeUpstream) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func (f *fakeUpstream) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

// fakeDecider returns a scripted decision. An optional gate blocks Decide
// until the test releases it.
type fakeDecider struct {
	mu       sync.Mutex
	recorded []decision.Turn
	result   decision.Decision
	gate     chan struct{}
}

func (f *fakeDecider) Record(role, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, decision.Turn{Role: role, Text: text})
}

func (f *fakeDecider) Decide(ctx context.Context, utterance string, dna brand.DNA, canvas brand.CanvasState) decision.Decision {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
		}
	}
	return f.result
}

type fixture struct {
	coord    *session.Coordinator
	sender   *fakeSender
	upstream *fakeUpstream
	decider  *fakeDecider
}

// newLiveFixture starts a coordinator and drives it to the live state.
func newLiveFixture(t *testing.T, warmup time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		sender:   &fakeSender{},
		upstream: newFakeUpstream(),
		decider:  &fakeDecider{},
	}
	f.coord = session.NewCoordinator(session.Config{
		SessionID: "test-session",
		Sender:    f.sender,
		Dial: func(ctx context.Context) (session.UpstreamChannel, error) {
			return f.upstream, nil
		},
		Decider: f.decider,
		Bus:     eventbus.New(),
		Warmup:  warmup,
	})
	f.coord.Start(context.Background())
	t.Cleanup(f.coord.Stop)

	f.coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientStartSession})
	f.sender.wait(t, protocol.ServerSessionStarted)
	return f
}

// waitPastWarmup sends capture frames until one reaches the upstream.
func (f *fixture) waitPastWarmup(t *testing.T) {
	t.Helper()
	chunk := audio.EncodePCM16([]byte{0x01, 0x00, 0x02, 0x00})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientAudioChunk, Data: chunk})
		if f.upstream.audioCount() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("capture never reached upstream after warmup")
}

func TestStartRejectsSecondSession(t *testing.T) {
	f := newLiveFixture(t, time.Millisecond)

	f.coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientStartSession})
	msg := f.sender.wait(t, protocol.ServerError)
	if msg.Code != protocol.CodeSessionAlreadyLive {
		t.Fatalf("expected %s, got code %q", protocol.CodeSessionAlreadyLive, msg.Code)
	}
	if len(f.sender.byType(protocol.ServerSessionStarted)) != 1 {
		t.Fatal("second start must not produce another SESSION_STARTED")
	}
}

func TestWarmupDiscardsEarlyCapture(t *testing.T) {
	f := newLiveFixture(t, 200*time.Millisecond)

	chunk := audio.EncodePCM16([]byte{0x01, 0x00, 0x02, 0x00})
	for i := 0; i < 3; i++ {
		f.coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientAudioChunk, Data: chunk})
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.coord.DroppedFrames() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.coord.DroppedFrames(); got < 3 {
		t.Fatalf("expected 3 dropped warmup frames, got %d", got)
	}
	if n := f.upstream.audioCount(); n != 0 {
		t.Fatalf("warmup frames reached upstream: %d", n)
	}

	// Once the window elapses, capture flows.
	f.waitPastWarmup(t)
}

func TestMicLockHoldsUntilModelContent(t *testing.T) {
	f := newLiveFixture(t, time.Millisecond)
	f.waitPastWarmup(t)
	base := f.upstream.audioCount()
	baseDropped := f.coord.DroppedFrames()

	f.upstream.events <- gemini.ToolCallRequestedEvent{Calls: []tools.Call{
		{ID: "fc-1", Name: tools.DisplayFonts, Args: map[string]any{
			"fonts": []any{map[string]any{"name": "Inter"}},
		}},
	}}
	f.sender.wait(t, protocol.ServerFontSuggestions)

	chunk := audio.EncodePCM16([]byte{0x01, 0x00, 0x02, 0x00})
	for i := 0; i < 3; i++ {
		f.coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientAudioChunk, Data: chunk})
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.coord.DroppedFrames() < baseDropped+3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := f.upstream.audioCount(); n != base {
		t.Fatalf("locked capture reached upstream: %d frames", n-base)
	}
	// The tool results ack alone must not unlock the mic.
	if got := f.coord.DroppedFrames(); got != baseDropped+3 {
		t.Fatalf("expected %d dropped frames, got %d", baseDropped+3, got)
	}

	// Model content reopens capture.
	f.upstream.events <- gemini.TranscriptOutEvent{Role: "model", Text: "Here are some fonts.", Partial: true}
	f.sender.wait(t, protocol.ServerTranscription)

	deadline = time.Now().Add(2 * time.Second)
	for f.upstream.audioCount() == base && time.Now().Before(deadline) {
		f.coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientAudioChunk, Data: chunk})
		time.Sleep(5 * time.Millisecond)
	}
	if f.upstream.audioCount() == base {
		t.Fatal("capture still locked after model content")
	}
}

func TestUserSelectionAppliesPaletteAndGrounds(t *testing.T) {
	f := newLiveFixture(t, time.Millisecond)

	f.upstream.events <- gemini.ToolCallRequestedEvent{Calls: []tools.Call{
		{Name: tools.DisplayColors, Args: map[string]any{
			"palettes": []any{
				map[string]any{"name": "Sunrise", "colors": []any{"#FF0000", "#FFA500"}, "vibe": "warm"},
				map[string]any{"name": "Ocean", "colors": []any{"#001F3F", "#0074D9"}, "vibe": "calm"},
			},
		}},
	}}
	f.sender.wait(t, protocol.ServerColorSuggestions)

	f.coord.HandleClient(protocol.ClientMessage{
		Type:          protocol.ClientUserSelection,
		SelectionType: protocol.SelectionColor,
		Value:         "Sunrise",
	})
	msg := f.sender.wait(t, protocol.ServerDNAUpdate)
	if msg.UpdatedField != brand.FieldColors {
		t.Fatalf("expected updatedField colors, got %q", msg.UpdatedField)
	}
	if msg.DNA == nil || len(msg.DNA.Colors) != 2 || msg.DNA.Colors[0] != "#FF0000" || msg.DNA.Colors[1] != "#FFA500" {
		t.Fatalf("selection did not apply the Sunrise colors: %+v", msg.DNA)
	}

	// Grounding turn tells the model about the click.
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(f.upstream.lastText(), "Sunrise") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(f.upstream.lastText(), "Sunrise") {
		t.Fatalf("no grounding turn mentioning the selection, last text %q", f.upstream.lastText())
	}
}

func TestUserSelectionUnknownPaletteRejected(t *testing.T) {
	f := newLiveFixture(t, time.Millisecond)

	f.coord.HandleClient(protocol.ClientMessage{
		Type:          protocol.ClientUserSelection,
		SelectionType: protocol.SelectionColor,
		Value:         "Nonexistent",
	})
	msg := f.sender.wait(t, protocol.ServerError)
	if msg.Code != protocol.CodeBadMessage {
		t.Fatalf("expected %s, got %q", protocol.CodeBadMessage, msg.Code)
	}
}

func TestTurnCompleteRunsDecisionPass(t *testing.T) {
	f := newLiveFixture(t, time.Millisecond)
	f.decider.result = decision.Decision{
		Intent:    decision.IntentNewAction,
		Reasoning: "user asked for font options",
		Calls: []tools.Call{{Name: tools.DisplayFonts, Args: map[string]any{
			"fonts": []any{map[string]any{"name": "Lora"}},
		}}},
	}

	f.upstream.events <- gemini.TranscriptOutEvent{Role: "user", Text: "show me some fonts", Partial: false}
	f.upstream.events <- gemini.TurnCompleteEvent{}

	thought := f.sender.wait(t, protocol.ServerThought)
	if thought.Target != "decision" {
		t.Fatalf("expected decision-targeted thought, got %q", thought.Target)
	}
	msg := f.sender.wait(t, protocol.ServerFontSuggestions)
	if len(msg.Fonts) != 1 || msg.Fonts[0].Name != "Lora" {
		t.Fatalf("decision calls not applied: %+v", msg.Fonts)
	}

	// Acknowledge grounding follows applied calls.
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(f.upstream.lastText(), "carried out") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(f.upstream.lastText(), "carried out") {
		t.Fatalf("no acknowledge grounding, last text %q", f.upstream.lastText())
	}
}

func TestDecisionResultAfterCloseDiscarded(t *testing.T) {
	f := newLiveFixture(t, time.Millisecond)
	f.decider.gate = make(chan struct{})
	f.decider.result = decision.Decision{
		Intent: decision.IntentNewAction,
		Calls:  []tools.Call{{Name: tools.DisplayFonts, Args: map[string]any{}}},
	}

	f.upstream.events <- gemini.TranscriptOutEvent{Role: "user", Text: "show fonts", Partial: false}
	f.upstream.events <- gemini.TurnCompleteEvent{}
	time.Sleep(20 * time.Millisecond) // let the pass start and park on the gate

	f.coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientEndSession})
	f.sender.wait(t, protocol.ServerSessionEnded)
	<-f.coord.Done()

	close(f.decider.gate)
	time.Sleep(50 * time.Millisecond)
	if msgs := f.sender.byType(protocol.ServerFontSuggestions); len(msgs) != 0 {
		t.Fatalf("decision result applied after close: %d messages", len(msgs))
	}
}

// parkedDecider blocks in Decide until its context is cancelled, then closes
// released. It stands in for a reasoning pass stuck on a slow upstream.
type parkedDecider struct {
	fakeDecider
	released chan struct{}
}

func (d *parkedDecider) Decide(ctx context.Context, utterance string, dna brand.DNA, canvas brand.CanvasState) decision.Decision {
	<-ctx.Done()
	close(d.released)
	return decision.Decision{}
}

func TestEndSessionReleasesInFlightWorkers(t *testing.T) {
	decider := &parkedDecider{released: make(chan struct{})}
	sender := &fakeSender{}
	upstream := newFakeUpstream()
	coord := session.NewCoordinator(session.Config{
		SessionID: "test-session",
		Sender:    sender,
		Dial: func(ctx context.Context) (session.UpstreamChannel, error) {
			return upstream, nil
		},
		Decider: decider,
		Bus:     eventbus.New(),
		Warmup:  time.Millisecond,
	})
	coord.Start(context.Background())

	coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientStartSession})
	sender.wait(t, protocol.ServerSessionStarted)

	upstream.events <- gemini.TranscriptOutEvent{Role: "user", Text: "show fonts", Partial: false}
	upstream.events <- gemini.TurnCompleteEvent{}
	time.Sleep(20 * time.Millisecond) // let the pass start and park on the context

	coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientEndSession})
	<-coord.Done()

	// The self-ended session must cancel its own context; nothing else will.
	select {
	case <-decider.released:
	case <-time.After(2 * time.Second):
		t.Fatal("decision worker still parked after END_SESSION")
	}
}

func TestDialFailureDegradesToIdle(t *testing.T) {
	sender := &fakeSender{}
	coord := session.NewCoordinator(session.Config{
		SessionID: "test-session",
		Sender:    sender,
		Dial: func(ctx context.Context) (session.UpstreamChannel, error) {
			return nil, fmt.Errorf("upstream unreachable")
		},
		Decider: &fakeDecider{},
		Bus:     eventbus.New(),
	})
	coord.Start(context.Background())
	t.Cleanup(coord.Stop)

	coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientStartSession})
	msg := sender.wait(t, protocol.ServerError)
	if msg.Code != protocol.CodeUpstreamConnectFailed {
		t.Fatalf("expected %s, got %q", protocol.CodeUpstreamConnectFailed, msg.Code)
	}
	status := sender.wait(t, protocol.ServerConnectionStatus)
	if status.Status != protocol.StatusDisconnected {
		t.Fatalf("expected disconnected status, got %q", status.Status)
	}

	// The session survives a failed dial; a retry is allowed.
	deadline := time.Now().Add(2 * time.Second)
	for coord.State() != eventbus.SessionStateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if coord.State() != eventbus.SessionStateIdle {
		t.Fatalf("expected idle after failed dial, got %s", coord.State())
	}
}

func TestEndSessionStopsCoordinator(t *testing.T) {
	f := newLiveFixture(t, time.Millisecond)

	f.coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientEndSession})
	f.sender.wait(t, protocol.ServerSessionEnded)

	select {
	case <-f.coord.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator loop did not stop after END_SESSION")
	}
	if f.coord.State() != eventbus.SessionStateClosed {
		t.Fatalf("expected closed state, got %s", f.coord.State())
	}
}

func TestInterruptCutsPlayback(t *testing.T) {
	f := newLiveFixture(t, time.Millisecond)

	pcm := make([]byte, 4800) // 100ms at 24kHz
	f.upstream.events <- gemini.AudioOutEvent{PCM: pcm}
	f.sender.wait(t, protocol.ServerAudioChunk)

	f.upstream.events <- gemini.InterruptedEvent{}
	f.sender.wait(t, protocol.ServerInterrupt)
}

func TestUpstreamClosedDegradesSession(t *testing.T) {
	f := newLiveFixture(t, time.Millisecond)

	f.upstream.events <- gemini.ClosedEvent{Reason: "network reset"}
	f.upstream.Close()

	msg := f.sender.wait(t, protocol.ServerConnectionStatus)
	deadline := time.Now().Add(2 * time.Second)
	for msg.Status != protocol.StatusDisconnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		msg = f.sender.wait(t, protocol.ServerConnectionStatus)
	}
	if msg.Status != protocol.StatusDisconnected {
		t.Fatalf("expected disconnected status, got %q", msg.Status)
	}

	for f.coord.State() != eventbus.SessionStateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.coord.State() != eventbus.SessionStateIdle {
		t.Fatalf("expected idle after upstream close, got %s", f.coord.State())
	}
}

// fakeArchiver records final session snapshots.
type fakeArchiver struct {
	mu    sync.Mutex
	saved []brand.DNA
	ids   []string
}

func (f *fakeArchiver) SaveSnapshot(sessionID string, dna brand.DNA, progress []brand.ProgressItem, startedAt, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, dna)
	f.ids = append(f.ids, sessionID)
	return nil
}

func TestSessionEndArchivesBrandState(t *testing.T) {
	archiver := &fakeArchiver{}
	sender := &fakeSender{}
	upstream := newFakeUpstream()
	coord := session.NewCoordinator(session.Config{
		SessionID: "archive-session",
		Sender:    sender,
		Dial: func(ctx context.Context) (session.UpstreamChannel, error) {
			return upstream, nil
		},
		Decider: &fakeDecider{},
		Bus:     eventbus.New(),
		Archive: archiver,
		Warmup:  time.Millisecond,
	})
	coord.Start(context.Background())
	t.Cleanup(coord.Stop)

	coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientStartSession})
	sender.wait(t, protocol.ServerSessionStarted)

	coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientUpdateDNA, Field: brand.FieldName, Value: "Loom"})
	sender.wait(t, protocol.ServerDNAUpdate)

	coord.HandleClient(protocol.ClientMessage{Type: protocol.ClientEndSession})
	<-coord.Done()

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	if len(archiver.saved) != 1 {
		t.Fatalf("expected one archived snapshot, got %d", len(archiver.saved))
	}
	if archiver.ids[0] != "archive-session" || archiver.saved[0].Name != "Loom" {
		t.Fatalf("unexpected snapshot: id=%q name=%q", archiver.ids[0], archiver.saved[0].Name)
	}
}
