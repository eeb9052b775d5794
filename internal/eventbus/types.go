package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

// Topics published by the session daemon.
const (
	TopicSessionLifecycle  Topic = "session.lifecycle"
	TopicUpstreamStatus    Topic = "upstream.status"
	TopicTranscriptUser    Topic = "transcript.user"
	TopicTranscriptModel   Topic = "transcript.model"
	TopicThought           Topic = "transcript.thought"
	TopicToolRequested     Topic = "tools.requested"
	TopicToolApplied       Topic = "tools.applied"
	TopicBrandDNAUpdated   Topic = "brand.dna_updated"
	TopicBrandProgress     Topic = "brand.progress"
	TopicPlaybackScheduled Topic = "audio.playback"
	TopicPlaybackInterrupt Topic = "audio.interrupt"
	TopicDecisionResolved  Topic = "decision.resolved"
)

// Source describes which component produced an event.
type Source string

const (
	SourceCoordinator   Source = "session_coordinator"
	SourceRegistry      Source = "session_registry"
	SourceTransport     Source = "client_transport"
	SourceUpstream      Source = "gemini_channel"
	SourceDecisionAgent Source = "decision_agent"
	SourceToolHandler   Source = "tool_handler"
	SourceDaemon        Source = "daemon"
	SourceUnknown       Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// SessionState summarises coordinator lifecycle transitions.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateLive       SessionState = "live"
	SessionStateToolLocked SessionState = "tool_locked"
	SessionStateClosed     SessionState = "closed"
)

// SessionLifecycleEvent notifies consumers about session state transitions.
type SessionLifecycleEvent struct {
	SessionID string
	State     SessionState
	Reason    string
}

// UpstreamStatusEvent reports connectivity of a session's Gemini Live channel.
type UpstreamStatusEvent struct {
	SessionID string
	Connected bool
	Reason    string
}

// TranscriptRole identifies the speaker of a transcript fragment.
type TranscriptRole string

const (
	RoleUser  TranscriptRole = "user"
	RoleModel TranscriptRole = "model"
)

// TranscriptEvent delivers a transcription fragment for one side of the
// conversation. TurnComplete marks the last fragment of a model turn.
type TranscriptEvent struct {
	SessionID    string
	Role         TranscriptRole
	Text         string
	TurnComplete bool
	At           time.Time
}

// ThoughtEvent carries coordinator-internal reasoning surfaced to the client
// with structured metadata (never scraped out of transcript text).
type ThoughtEvent struct {
	SessionID string
	Text      string
	Target    string // which subsystem the thought concerns, e.g. "decision"
}

// ToolOrigin distinguishes the two producers of tool calls.
type ToolOrigin string

const (
	ToolOriginModel    ToolOrigin = "model"    // native function call from the live channel
	ToolOriginDecision ToolOrigin = "decision" // secondary reasoning pass
)

// ToolRequestedEvent is published when tool calls arrive for a session.
type ToolRequestedEvent struct {
	SessionID string
	Origin    ToolOrigin
	Tools     []string
}

// ToolAppliedEvent is published after the invocation handler applies a call.
type ToolAppliedEvent struct {
	SessionID string
	Tool      string
	CallID    string
}

// BrandDNAUpdatedEvent signals a brand identity change. Consumers that need
// the full snapshot read it from the session's state store.
type BrandDNAUpdatedEvent struct {
	SessionID    string
	UpdatedField string
}

// BrandProgressEvent reports a progress item transition for one DNA field.
type BrandProgressEvent struct {
	SessionID string
	Field     string
	Status    string
}

// PlaybackScheduledEvent records an audio chunk scheduled on the session's
// playback timeline.
type PlaybackScheduledEvent struct {
	SessionID string
	Samples   int
	Duration  time.Duration
	Offset    time.Duration // start offset relative to timeline epoch
}

// PlaybackInterruptEvent is emitted when playback is cut short (barge-in or
// explicit client interrupt).
type PlaybackInterruptEvent struct {
	SessionID string
	Reason    string
}

// DecisionResolvedEvent summarises one secondary reasoning pass.
type DecisionResolvedEvent struct {
	SessionID string
	Intent    string
	ToolCount int
}

// ---------------------------------------------------------------------------
// Typed topic descriptors
// ---------------------------------------------------------------------------
// Each TopicDef binds a Topic constant to its payload type, enabling
// compile-time enforcement via Publish[T] and SubscribeTo[T].

// Sessions groups session topic descriptors.
var Sessions = struct {
	Lifecycle TopicDef[SessionLifecycleEvent]
	Upstream  TopicDef[UpstreamStatusEvent]
}{
	Lifecycle: NewTopicDef[SessionLifecycleEvent](TopicSessionLifecycle),
	Upstream:  NewTopicDef[UpstreamStatusEvent](TopicUpstreamStatus),
}

// Transcripts groups transcript topic descriptors.
var Transcripts = struct {
	User    TopicDef[TranscriptEvent]
	Model   TopicDef[TranscriptEvent]
	Thought TopicDef[ThoughtEvent]
}{
	User:    NewTopicDef[TranscriptEvent](TopicTranscriptUser),
	Model:   NewTopicDef[TranscriptEvent](TopicTranscriptModel),
	Thought: NewTopicDef[ThoughtEvent](TopicThought),
}

// Tools groups tool topic descriptors.
var Tools = struct {
	Requested TopicDef[ToolRequestedEvent]
	Applied   TopicDef[ToolAppliedEvent]
}{
	Requested: NewTopicDef[ToolRequestedEvent](TopicToolRequested),
	Applied:   NewTopicDef[ToolAppliedEvent](TopicToolApplied),
}

// Brand groups brand-state topic descriptors.
var Brand = struct {
	DNAUpdated TopicDef[BrandDNAUpdatedEvent]
	Progress   TopicDef[BrandProgressEvent]
}{
	DNAUpdated: NewTopicDef[BrandDNAUpdatedEvent](TopicBrandDNAUpdated),
	Progress:   NewTopicDef[BrandProgressEvent](TopicBrandProgress),
}

// Audio groups playback topic descriptors.
var Audio = struct {
	Playback  TopicDef[PlaybackScheduledEvent]
	Interrupt TopicDef[PlaybackInterruptEvent]
}{
	Playback:  NewTopicDef[PlaybackScheduledEvent](TopicPlaybackScheduled),
	Interrupt: NewTopicDef[PlaybackInterruptEvent](TopicPlaybackInterrupt),
}

// Decisions groups decision topic descriptors.
var Decisions = struct {
	Resolved TopicDef[DecisionResolvedEvent]
}{
	Resolved: NewTopicDef[DecisionResolvedEvent](TopicDecisionResolved),
}
