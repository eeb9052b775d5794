package gemini

import "github.com/brandloom-ai/brandloom/internal/tools"

// Event is a demultiplexed occurrence on the live channel.
type Event interface {
	eventType() string
}

// AudioOutEvent carries one chunk of model speech (24 kHz mono PCM16).
type AudioOutEvent struct {
	PCM []byte
}

func (AudioOutEvent) eventType() string { return "audio_out" }

// TranscriptOutEvent carries a transcription fragment for either side of the
// conversation.
type TranscriptOutEvent struct {
	Role    string // "user" or "model"
	Text    string
	Partial bool
}

func (TranscriptOutEvent) eventType() string { return "transcript_out" }

// ToolCallRequestedEvent carries native function calls from the model. The
// model blocks its own turn until results are sent back via SendToolResults.
type ToolCallRequestedEvent struct {
	Calls []tools.Call
}

func (ToolCallRequestedEvent) eventType() string { return "tool_call_requested" }

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) eventType() string { return "turn_complete" }

// InterruptedEvent signals the model detected barge-in and stopped speaking.
type InterruptedEvent struct{}

func (InterruptedEvent) eventType() string { return "interrupted" }

// ClosedEvent is the final event before the events channel closes.
type ClosedEvent struct {
	Reason string
}

func (ClosedEvent) eventType() string { return "closed" }

// ErrorEvent reports a mid-session channel failure. The session object
// survives; the coordinator degrades to disconnected.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) eventType() string { return "error" }
