package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/brandloom-ai/brandloom/internal/audio"
	"github.com/brandloom-ai/brandloom/internal/brand"
	"github.com/brandloom-ai/brandloom/internal/decision"
	"github.com/brandloom-ai/brandloom/internal/eventbus"
	"github.com/brandloom-ai/brandloom/internal/gemini"
	"github.com/brandloom-ai/brandloom/internal/protocol"
	"github.com/brandloom-ai/brandloom/internal/tools"
)

// loopEvent is anything the coordinator's run loop consumes. Producers post,
// the loop mutates; nothing else touches session state.
type loopEvent interface{ loopEvent() }

type clientEvent struct{ msg protocol.ClientMessage }

type upstreamEvent struct{ ev gemini.Event }

type dialResultEvent struct {
	ch  UpstreamChannel
	err error
}

type warmupElapsedEvent struct{}

type decisionDoneEvent struct {
	utterance string
	result    decision.Decision
}

func (clientEvent) loopEvent()        {}
func (upstreamEvent) loopEvent()      {}
func (dialResultEvent) loopEvent()    {}
func (warmupElapsedEvent) loopEvent() {}
func (decisionDoneEvent) loopEvent()  {}

// post enqueues a loop event from a worker goroutine.
func (c *Coordinator) post(ev loopEvent) {
	select {
	case c.queue <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.teardown("coordinator stopped")
			return
		case ev := <-c.queue:
			if c.dispatch(ev) {
				c.teardown("session ended")
				return
			}
		}
	}
}

// dispatch handles one event; returning true stops the loop.
func (c *Coordinator) dispatch(ev loopEvent) bool {
	switch ev := ev.(type) {
	case clientEvent:
		return c.onClientMessage(ev.msg)
	case upstreamEvent:
		c.onUpstreamEvent(ev.ev)
	case dialResultEvent:
		c.onDialResult(ev.ch, ev.err)
	case warmupElapsedEvent:
		c.warmup = false
	case decisionDoneEvent:
		c.onDecisionDone(ev.utterance, ev.result)
	}
	return false
}

// teardown releases everything the session holds. Idempotent.
func (c *Coordinator) teardown(reason string) {
	if c.warmupTimer != nil {
		c.warmupTimer.Stop()
		c.warmupTimer = nil
	}
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	c.timeline.Interrupt()
	c.micLocked = false
	c.warmup = false
	if c.archive != nil {
		if err := c.archive.SaveSnapshot(c.id, c.store.DNA(), c.store.Progress(), c.startedAt, c.clock()); err != nil {
			c.logger.Printf("[Session] %s: archive snapshot: %v", c.id, err)
		}
		c.archive = nil
	}
	c.setState(eventbus.SessionStateClosed, reason)
	// Release workers (dial, upstream pump, decision pass) still parked on
	// the coordinator context; a self-ended session never sees Stop.
	if c.cancel != nil {
		c.cancel()
	}
	if c.onClose != nil {
		c.onClose()
		c.onClose = nil
	}
}

// ---------------------------------------------------------------------------
// Client messages
// ---------------------------------------------------------------------------

func (c *Coordinator) onClientMessage(msg protocol.ClientMessage) bool {
	switch msg.Type {
	case protocol.ClientStartSession:
		c.onStart()
	case protocol.ClientEndSession:
		c.send(protocol.SessionEnded())
		return true
	case protocol.ClientAudioChunk:
		c.onAudioChunk(msg.Data)
	case protocol.ClientTextInput:
		c.onTextInput(msg.Text)
	case protocol.ClientUserSelection:
		c.onUserSelection(msg.SelectionType, msg.Value)
	case protocol.ClientUpdateDNA:
		c.onUpdateDNA(msg.Field, msg.Value)
	default:
		c.send(protocol.Error(fmt.Sprintf("unsupported message type %q", msg.Type), protocol.CodeBadMessage))
	}
	return false
}

func (c *Coordinator) onStart() {
	if c.state != eventbus.SessionStateIdle {
		c.send(protocol.Error("a live session is already running; end it before starting another", protocol.CodeSessionAlreadyLive))
		return
	}
	if c.dial == nil {
		c.send(protocol.Error("no upstream configured", protocol.CodeUpstreamConnectFailed))
		return
	}

	c.setState(eventbus.SessionStateConnecting, "client start")
	c.send(protocol.ConnectionStatus(protocol.StatusConnecting, false))

	go func() {
		ch, err := c.dial(c.ctx)
		c.post(dialResultEvent{ch: ch, err: err})
	}()
}

func (c *Coordinator) onDialResult(ch UpstreamChannel, err error) {
	if c.state != eventbus.SessionStateConnecting {
		// Session ended or degraded while dialing.
		if ch != nil {
			ch.Close()
		}
		return
	}
	if err != nil {
		c.logger.Printf("[Session] %s: upstream connect failed: %v", c.id, err)
		c.setState(eventbus.SessionStateIdle, "upstream connect failed")
		c.send(protocol.Error("could not reach the voice model", protocol.CodeUpstreamConnectFailed))
		c.send(protocol.ConnectionStatus(protocol.StatusDisconnected, false))
		eventbus.Publish(c.ctx, c.bus, eventbus.Sessions.Upstream, eventbus.SourceCoordinator,
			eventbus.UpstreamStatusEvent{SessionID: c.id, Connected: false, Reason: "connect failed"})
		return
	}

	c.channel = ch
	c.warmup = true
	c.warmupTimer = time.AfterFunc(c.warmupD, func() { c.post(warmupElapsedEvent{}) })
	c.setState(eventbus.SessionStateLive, "upstream connected")

	go c.pumpUpstream(ch)

	c.send(protocol.SessionStarted(c.id))
	c.send(protocol.ConnectionStatus(protocol.StatusConnected, true))
	eventbus.Publish(c.ctx, c.bus, eventbus.Sessions.Upstream, eventbus.SourceCoordinator,
		eventbus.UpstreamStatusEvent{SessionID: c.id, Connected: true})
}

// pumpUpstream forwards channel events onto the loop queue until the channel
// closes. The ClosedEvent the channel emits last lets the loop degrade.
func (c *Coordinator) pumpUpstream(ch UpstreamChannel) {
	for ev := range ch.Events() {
		c.post(upstreamEvent{ev: ev})
	}
}

func (c *Coordinator) onAudioChunk(data string) {
	if c.channel == nil || c.state != eventbus.SessionStateLive && c.state != eventbus.SessionStateToolLocked {
		return
	}
	if c.warmup || c.micLocked {
		c.micDropped.Add(1)
		return
	}
	pcm := audio.DecodePCM16(data)
	if pcm == nil {
		c.logger.Printf("[Session] %s: discarding malformed capture frame", c.id)
		return
	}
	if err := c.channel.SendAudio(pcm); err != nil {
		c.logger.Printf("[Session] %s: forward capture: %v", c.id, err)
	}
}

func (c *Coordinator) onTextInput(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.channel == nil {
		c.send(protocol.Error("no active session", protocol.CodeNoActiveSession))
		return
	}
	if err := c.channel.SendText(text, true); err != nil {
		c.logger.Printf("[Session] %s: forward text input: %v", c.id, err)
		return
	}
	c.decider.Record("user", text)
	eventbus.Publish(c.ctx, c.bus, eventbus.Transcripts.User, eventbus.SourceCoordinator,
		eventbus.TranscriptEvent{SessionID: c.id, Role: eventbus.RoleUser, Text: text, TurnComplete: true, At: time.Now()})
}

// onUserSelection applies a canvas click synchronously. The click is
// authoritative: state updates immediately, then a grounding turn tells the
// model what happened so its next utterance reflects the choice.
func (c *Coordinator) onUserSelection(selectionType, value string) {
	if c.state == eventbus.SessionStateIdle || c.state == eventbus.SessionStateConnecting {
		c.send(protocol.Error("no active session", protocol.CodeNoActiveSession))
		return
	}

	canvas := c.store.Canvas()
	var args map[string]any
	var grounding string

	switch selectionType {
	case protocol.SelectionFont:
		args = map[string]any{"font": value}
		grounding = fmt.Sprintf("[SYSTEM: The user clicked the font %q on the canvas. It has been applied to the brand. Acknowledge the choice briefly and continue.]", value)
	case protocol.SelectionColor:
		palette, ok := canvas.PaletteByName(value)
		if !ok {
			c.send(protocol.Error(fmt.Sprintf("palette %q is not on the canvas", value), protocol.CodeBadMessage))
			return
		}
		colors := make([]any, len(palette.Colors))
		for i, col := range palette.Colors {
			colors[i] = col
		}
		args = map[string]any{"colors": colors}
		grounding = fmt.Sprintf("[SYSTEM: The user clicked the %q palette on the canvas. Its colors have been applied to the brand. Acknowledge the choice briefly and continue.]", value)
	default:
		c.send(protocol.Error(fmt.Sprintf("unknown selection type %q", selectionType), protocol.CodeBadMessage))
		return
	}

	_, outbound := c.handler.Apply(c.ctx, []tools.Call{{Name: tools.UpdateDNA, Args: args}})
	c.sendAll(outbound)
	c.decider.Record("user", fmt.Sprintf("(clicked %s %q)", selectionType, value))

	if c.channel != nil {
		if err := c.channel.SendText(grounding, true); err != nil {
			c.logger.Printf("[Session] %s: selection grounding: %v", c.id, err)
		}
	}
}

// onUpdateDNA is the manual edit path: the client changed a field directly in
// the UI, bypassing the conversation.
func (c *Coordinator) onUpdateDNA(field, value string) {
	var args map[string]any
	switch field {
	case brand.FieldName, brand.FieldMission, brand.FieldFont, brand.FieldVoice, "logoUrl":
		args = map[string]any{field: value}
	case brand.FieldColors:
		args = map[string]any{"colors": []any{value}}
	default:
		c.send(protocol.Error(fmt.Sprintf("unknown brand field %q", field), protocol.CodeBadMessage))
		return
	}
	_, outbound := c.handler.Apply(c.ctx, []tools.Call{{Name: tools.UpdateDNA, Args: args}})
	c.sendAll(outbound)
}

// ---------------------------------------------------------------------------
// Upstream events
// ---------------------------------------------------------------------------

func (c *Coordinator) onUpstreamEvent(ev gemini.Event) {
	switch ev := ev.(type) {
	case gemini.AudioOutEvent:
		c.onModelAudio(ev.PCM)
	case gemini.TranscriptOutEvent:
		c.onTranscript(ev)
	case gemini.ToolCallRequestedEvent:
		c.onToolCalls(ev.Calls)
	case gemini.TurnCompleteEvent:
		c.onTurnComplete()
	case gemini.InterruptedEvent:
		c.onInterrupted()
	case gemini.ClosedEvent:
		c.onUpstreamClosed(ev.Reason)
	case gemini.ErrorEvent:
		c.logger.Printf("[Session] %s: upstream error: %v", c.id, ev.Err)
	}
}

func (c *Coordinator) onModelAudio(pcm []byte) {
	c.unlockMic()

	format := audio.PlaybackFormat()
	offset, dur := c.timeline.Schedule(format, len(pcm))
	eventbus.Publish(c.ctx, c.bus, eventbus.Audio.Playback, eventbus.SourceCoordinator,
		eventbus.PlaybackScheduledEvent{
			SessionID: c.id,
			Samples:   audio.FrameCountFromBytes(format, len(pcm)),
			Duration:  dur,
			Offset:    offset,
		})
	c.send(protocol.AudioChunk(audio.EncodePCM16(pcm)))
}

func (c *Coordinator) onTranscript(ev gemini.TranscriptOutEvent) {
	c.send(protocol.Transcription(ev.Role, ev.Text, ev.Partial))

	switch ev.Role {
	case "user":
		c.userBuf += ev.Text
		eventbus.Publish(c.ctx, c.bus, eventbus.Transcripts.User, eventbus.SourceCoordinator,
			eventbus.TranscriptEvent{SessionID: c.id, Role: eventbus.RoleUser, Text: ev.Text, TurnComplete: !ev.Partial, At: time.Now()})
	case "model":
		c.unlockMic()
		c.modelBuf += ev.Text
		eventbus.Publish(c.ctx, c.bus, eventbus.Transcripts.Model, eventbus.SourceCoordinator,
			eventbus.TranscriptEvent{SessionID: c.id, Role: eventbus.RoleModel, Text: ev.Text, TurnComplete: !ev.Partial, At: time.Now()})
	}
}

// onToolCalls locks the mic, applies the calls, and acks them upstream. The
// lock holds until the model produces content again: the ack only means the
// daemon applied the calls, not that the model is ready to listen.
func (c *Coordinator) onToolCalls(calls []tools.Call) {
	c.micLocked = true
	if c.state == eventbus.SessionStateLive {
		c.setState(eventbus.SessionStateToolLocked, "model tool call")
	}

	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Name
	}
	eventbus.Publish(c.ctx, c.bus, eventbus.Tools.Requested, eventbus.SourceCoordinator,
		eventbus.ToolRequestedEvent{SessionID: c.id, Origin: eventbus.ToolOriginModel, Tools: names})

	results, outbound := c.handler.Apply(c.ctx, calls)
	c.sendAll(outbound)

	if c.channel != nil {
		if err := c.channel.SendToolResults(results); err != nil {
			c.logger.Printf("[Session] %s: tool results: %v", c.id, err)
		}
	}
}

// unlockMic reopens capture after model content arrives.
func (c *Coordinator) unlockMic() {
	if !c.micLocked {
		return
	}
	c.micLocked = false
	if c.state == eventbus.SessionStateToolLocked {
		c.setState(eventbus.SessionStateLive, "model content resumed")
	}
}

// onTurnComplete closes out the model turn, records both sides of the
// exchange, and dispatches the reasoning pass over the user's utterance.
func (c *Coordinator) onTurnComplete() {
	c.unlockMic()

	if c.modelBuf != "" {
		c.decider.Record("model", c.modelBuf)
		c.modelBuf = ""
	}

	utterance := strings.TrimSpace(c.userBuf)
	c.userBuf = ""
	if utterance == "" {
		return
	}
	c.decider.Record("user", utterance)

	// Snapshot state on the loop; the pass itself runs off-loop and posts
	// its result back. Results arriving after close are discarded.
	dna := c.store.DNA()
	canvas := c.store.Canvas()
	go func() {
		result := c.decider.Decide(c.ctx, utterance, dna, canvas)
		c.post(decisionDoneEvent{utterance: utterance, result: result})
	}()
}

func (c *Coordinator) onInterrupted() {
	cut := c.timeline.Interrupt()
	c.send(protocol.Interrupt())
	eventbus.Publish(c.ctx, c.bus, eventbus.Audio.Interrupt, eventbus.SourceCoordinator,
		eventbus.PlaybackInterruptEvent{SessionID: c.id, Reason: "barge-in"})
	if cut > 0 {
		c.logger.Printf("[Session] %s: barge-in cut %d scheduled chunk(s)", c.id, cut)
	}
	// The model abandoned its turn; whatever it was saying is gone.
	c.modelBuf = ""
}

// onUpstreamClosed degrades to disconnected without destroying the session.
// Brand state survives and the client may start a fresh live connection.
func (c *Coordinator) onUpstreamClosed(reason string) {
	if c.state == eventbus.SessionStateClosed || c.channel == nil {
		return
	}
	c.logger.Printf("[Session] %s: upstream closed: %s", c.id, reason)
	c.channel = nil
	c.micLocked = false
	c.warmup = false
	if c.warmupTimer != nil {
		c.warmupTimer.Stop()
		c.warmupTimer = nil
	}
	c.timeline.Interrupt()
	c.setState(eventbus.SessionStateIdle, "upstream closed")
	c.send(protocol.ConnectionStatus(protocol.StatusDisconnected, false))
	eventbus.Publish(c.ctx, c.bus, eventbus.Sessions.Upstream, eventbus.SourceCoordinator,
		eventbus.UpstreamStatusEvent{SessionID: c.id, Connected: false, Reason: reason})
}

// ---------------------------------------------------------------------------
// Decision results
// ---------------------------------------------------------------------------

func (c *Coordinator) onDecisionDone(utterance string, result decision.Decision) {
	if c.state == eventbus.SessionStateClosed {
		return
	}

	eventbus.Publish(c.ctx, c.bus, eventbus.Decisions.Resolved, eventbus.SourceDecisionAgent,
		eventbus.DecisionResolvedEvent{SessionID: c.id, Intent: result.Intent, ToolCount: len(result.Calls)})

	if result.Reasoning != "" {
		c.send(protocol.Thought(result.Reasoning, "decision", 1))
		eventbus.Publish(c.ctx, c.bus, eventbus.Transcripts.Thought, eventbus.SourceDecisionAgent,
			eventbus.ThoughtEvent{SessionID: c.id, Text: result.Reasoning, Target: "decision"})
	}

	if len(result.Calls) > 0 {
		names := make([]string, len(result.Calls))
		for i, call := range result.Calls {
			names[i] = call.Name
		}
		eventbus.Publish(c.ctx, c.bus, eventbus.Tools.Requested, eventbus.SourceDecisionAgent,
			eventbus.ToolRequestedEvent{SessionID: c.id, Origin: eventbus.ToolOriginDecision, Tools: names})

		_, outbound := c.handler.Apply(c.ctx, result.Calls)
		c.sendAll(outbound)
		c.ground("[SYSTEM: The user's request has been carried out and the canvas and brand state are up to date. Briefly acknowledge this and continue the conversation.]")
		return
	}

	// An actionable intent that produced no calls means the request could
	// not be honored; tell the model so it can apologize instead of
	// pretending something happened.
	switch result.Intent {
	case decision.IntentNewAction, decision.IntentRefinement, decision.IntentRejection:
		c.ground(fmt.Sprintf("[SYSTEM: Nothing could be changed in response to the user saying %q. Briefly apologize and ask how they would like to proceed.]", utterance))
	}
}

func (c *Coordinator) ground(text string) {
	if c.channel == nil {
		return
	}
	if err := c.channel.SendText(text, true); err != nil {
		c.logger.Printf("[Session] %s: grounding turn: %v", c.id, err)
	}
}
