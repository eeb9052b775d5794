package protocol

import "github.com/brandloom-ai/brandloom/internal/brand"

// Client→server message types.
const (
	ClientStartSession  = "START_SESSION"
	ClientEndSession    = "END_SESSION"
	ClientAudioChunk    = "AUDIO_CHUNK"
	ClientTextInput     = "TEXT_INPUT"
	ClientUserSelection = "USER_SELECTION"
	ClientUpdateDNA     = "UPDATE_DNA"
)

// Server→client message types.
const (
	ServerSessionStarted   = "SESSION_STARTED"
	ServerSessionEnded     = "SESSION_ENDED"
	ServerAudioChunk       = "AUDIO_CHUNK"
	ServerTranscription    = "TRANSCRIPTION"
	ServerFontSuggestions  = "FONT_SUGGESTIONS"
	ServerColorSuggestions = "COLOR_SUGGESTIONS"
	ServerDNAUpdate        = "DNA_UPDATE"
	ServerProgressUpdate   = "PROGRESS_UPDATE"
	ServerThought          = "THOUGHT"
	ServerError            = "ERROR"
	ServerConnectionStatus = "CONNECTION_STATUS"
	ServerInterrupt        = "INTERRUPT"
)

// Selection types for USER_SELECTION.
const (
	SelectionFont  = "font"
	SelectionColor = "color"
)

// Stable error codes surfaced in ERROR messages.
const (
	CodeUpstreamConnectFailed = "UPSTREAM_CONNECT_FAILED"
	CodeSessionAlreadyLive    = "SESSION_ALREADY_LIVE"
	CodeNoActiveSession       = "NO_ACTIVE_SESSION"
	CodeBadMessage            = "BAD_MESSAGE"
)

// Connection status values for CONNECTION_STATUS.
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// ClientMessage is the flat JSON envelope for everything a client sends.
// Which fields are meaningful depends on Type.
type ClientMessage struct {
	Type          string `json:"type"`
	Data          string `json:"data,omitempty"`          // AUDIO_CHUNK: base64 PCM16
	Text          string `json:"text,omitempty"`          // TEXT_INPUT
	SelectionType string `json:"selectionType,omitempty"` // USER_SELECTION: font|color
	Value         string `json:"value,omitempty"`         // USER_SELECTION / UPDATE_DNA
	Field         string `json:"field,omitempty"`         // UPDATE_DNA
}

// ServerMessage is the flat JSON envelope for everything the server sends.
// Constructors below populate only the fields relevant to each type.
type ServerMessage struct {
	Type            string                 `json:"type"`
	SessionID       string                 `json:"sessionId,omitempty"`
	Data            string                 `json:"data,omitempty"`
	Role            string                 `json:"role,omitempty"`
	Text            string                 `json:"text,omitempty"`
	IsPartial       *bool                  `json:"isPartial,omitempty"`
	Fonts           []brand.FontSuggestion `json:"fonts,omitempty"`
	PreviewText     string                 `json:"previewText,omitempty"`
	Palettes        []brand.Palette        `json:"palettes,omitempty"`
	DNA             *brand.DNA             `json:"dna,omitempty"`
	UpdatedField    string                 `json:"updatedField,omitempty"`
	Field           string                 `json:"field,omitempty"`
	Value           string                 `json:"value,omitempty"`
	Finalized       *bool                  `json:"finalized,omitempty"`
	Logic           string                 `json:"logic,omitempty"`
	Target          string                 `json:"target,omitempty"`
	Confidence      float64                `json:"confidence,omitempty"`
	Message         string                 `json:"message,omitempty"`
	Code            string                 `json:"code,omitempty"`
	Status          string                 `json:"status,omitempty"`
	GeminiConnected *bool                  `json:"geminiConnected,omitempty"`
}

func SessionStarted(sessionID string) ServerMessage {
	return ServerMessage{Type: ServerSessionStarted, SessionID: sessionID}
}

func SessionEnded() ServerMessage {
	return ServerMessage{Type: ServerSessionEnded}
}

func AudioChunk(data string) ServerMessage {
	return ServerMessage{Type: ServerAudioChunk, Data: data}
}

func Transcription(role, text string, partial bool) ServerMessage {
	return ServerMessage{Type: ServerTranscription, Role: role, Text: text, IsPartial: &partial}
}

func FontSuggestions(fonts []brand.FontSuggestion, previewText string) ServerMessage {
	return ServerMessage{Type: ServerFontSuggestions, Fonts: fonts, PreviewText: previewText}
}

func ColorSuggestions(palettes []brand.Palette) ServerMessage {
	return ServerMessage{Type: ServerColorSuggestions, Palettes: palettes}
}

func DNAUpdate(dna brand.DNA, updatedField string) ServerMessage {
	return ServerMessage{Type: ServerDNAUpdate, DNA: &dna, UpdatedField: updatedField}
}

func ProgressUpdate(item brand.ProgressItem) ServerMessage {
	finalized := item.Finalized
	return ServerMessage{
		Type:      ServerProgressUpdate,
		Field:     item.Field,
		Value:     item.Value,
		Finalized: &finalized,
	}
}

// Thought carries structured reasoning metadata: logic text, a confidence in
// [0,1], and the subsystem the thought concerns.
func Thought(logic, target string, confidence float64) ServerMessage {
	return ServerMessage{Type: ServerThought, Logic: logic, Target: target, Confidence: confidence}
}

func Error(message, code string) ServerMessage {
	return ServerMessage{Type: ServerError, Message: message, Code: code}
}

func ConnectionStatus(status string, geminiConnected bool) ServerMessage {
	return ServerMessage{Type: ServerConnectionStatus, Status: status, GeminiConnected: &geminiConnected}
}

func Interrupt() ServerMessage {
	return ServerMessage{Type: ServerInterrupt}
}
