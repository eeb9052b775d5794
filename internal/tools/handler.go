package tools

import (
	"context"
	"fmt"
	"log"

	"github.com/brandloom-ai/brandloom/internal/brand"
	"github.com/brandloom-ai/brandloom/internal/eventbus"
	"github.com/brandloom-ai/brandloom/internal/protocol"
)

// Normalization defaults for malformed display arguments. Suggestion quality
// degrades gracefully instead of surfacing errors to the user.
const (
	defaultFontCategory = "sans-serif"
	defaultPaletteVibe  = "balanced"
	defaultPreviewText  = "The quick brown fox jumps over the lazy dog"
)

// fallbackColors is substituted for a palette that arrived without colors.
var fallbackColors = []string{"#1A1A2E", "#16213E", "#0F3460", "#E94560"}

// Handler applies tool calls against one session's brand store and produces
// the client-facing messages that describe each application. It runs on the
// session coordinator's event loop.
type Handler struct {
	sessionID string
	store     *brand.Store
	bus       *eventbus.Bus
	logger    *log.Logger
}

// NewHandler creates a handler bound to one session's store.
func NewHandler(sessionID string, store *brand.Store, bus *eventbus.Bus) *Handler {
	return &Handler{
		sessionID: sessionID,
		store:     store,
		bus:       bus,
		logger:    log.Default(),
	}
}

// Apply normalizes and applies each call in input order, returning one result
// per call plus the outbound messages the coordinator should forward to the
// client. Unknown tool names still yield a success result (with the args
// echoed) but mutate nothing.
func (h *Handler) Apply(ctx context.Context, calls []Call) ([]Result, []protocol.ServerMessage) {
	results := make([]Result, 0, len(calls))
	var outbound []protocol.ServerMessage

	for _, call := range calls {
		switch call.Name {
		case DisplayFonts:
			outbound = append(outbound, h.applyDisplayFonts(call)...)
		case DisplayColors:
			outbound = append(outbound, h.applyDisplayColors(call)...)
		case UpdateDNA:
			outbound = append(outbound, h.applyUpdateDNA(ctx, call)...)
		case FinalizeField:
			outbound = append(outbound, h.applyFinalize(ctx, call)...)
		default:
			h.logger.Printf("[Tools] session %s: ignoring unknown tool %q", h.sessionID, call.Name)
		}

		results = append(results, Result{
			ID:     call.ID,
			Name:   call.Name,
			Status: statusSuccess,
			Args:   call.Args,
		})

		eventbus.Publish(ctx, h.bus, eventbus.Tools.Applied, eventbus.SourceToolHandler,
			eventbus.ToolAppliedEvent{SessionID: h.sessionID, Tool: call.Name, CallID: call.ID})
	}

	return results, outbound
}

func (h *Handler) applyDisplayFonts(call Call) []protocol.ServerMessage {
	raw := argSlice(call.Args, "fonts")
	fonts := make([]brand.FontSuggestion, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		font := brand.FontSuggestion{
			Name:      argString(m, "name", ""),
			Category:  argString(m, "category", defaultFontCategory),
			Reasoning: argString(m, "reasoning", ""),
		}
		if font.Name == "" {
			continue
		}
		fonts = append(fonts, font)
	}

	preview := argString(call.Args, "previewText", defaultPreviewText)
	h.store.ShowFonts(fonts)

	return []protocol.ServerMessage{
		protocol.FontSuggestions(fonts, preview),
		protocol.Thought(fmt.Sprintf("Displaying %d font option(s) on the canvas", len(fonts)), "canvas", 1),
	}
}

func (h *Handler) applyDisplayColors(call Call) []protocol.ServerMessage {
	raw := argSlice(call.Args, "palettes")
	palettes := make([]brand.Palette, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		palette := brand.Palette{
			Name:   argString(m, "name", ""),
			Colors: argStrings(m, "colors"),
			Vibe:   argString(m, "vibe", defaultPaletteVibe),
		}
		if palette.Name == "" {
			continue
		}
		if len(palette.Colors) == 0 {
			palette.Colors = append([]string(nil), fallbackColors...)
		}
		palettes = append(palettes, palette)
	}

	h.store.ShowPalettes(palettes)

	return []protocol.ServerMessage{
		protocol.ColorSuggestions(palettes),
		protocol.Thought(fmt.Sprintf("Displaying %d palette option(s) on the canvas", len(palettes)), "canvas", 1),
	}
}

func (h *Handler) applyUpdateDNA(ctx context.Context, call Call) []protocol.ServerMessage {
	patch := PatchFromArgs(call.Args)
	dna, updatedField := h.store.ApplyPatch(patch)

	out := []protocol.ServerMessage{protocol.DNAUpdate(dna, updatedField)}
	for _, field := range brand.TrackedFields {
		if !patchTouches(patch, field) {
			continue
		}
		if item, ok := h.store.ProgressFor(field); ok {
			out = append(out, protocol.ProgressUpdate(item))
			eventbus.Publish(ctx, h.bus, eventbus.Brand.Progress, eventbus.SourceToolHandler,
				eventbus.BrandProgressEvent{SessionID: h.sessionID, Field: field, Status: "updated"})
		}
	}

	eventbus.Publish(ctx, h.bus, eventbus.Brand.DNAUpdated, eventbus.SourceToolHandler,
		eventbus.BrandDNAUpdatedEvent{SessionID: h.sessionID, UpdatedField: updatedField})

	return out
}

func (h *Handler) applyFinalize(ctx context.Context, call Call) []protocol.ServerMessage {
	field := argString(call.Args, "field", "")
	item, ok := h.store.Finalize(field)
	if !ok {
		h.logger.Printf("[Tools] session %s: finalize for untracked field %q ignored", h.sessionID, field)
		return nil
	}

	eventbus.Publish(ctx, h.bus, eventbus.Brand.Progress, eventbus.SourceToolHandler,
		eventbus.BrandProgressEvent{SessionID: h.sessionID, Field: field, Status: "finalized"})

	return []protocol.ServerMessage{protocol.ProgressUpdate(item)}
}

// PatchFromArgs converts raw tool arguments into a DNA patch. Absent keys
// stay nil so unrelated fields are never cleared.
func PatchFromArgs(args map[string]any) brand.Patch {
	var patch brand.Patch
	if v, ok := args["name"].(string); ok {
		patch.Name = &v
	}
	if v, ok := args["mission"].(string); ok {
		patch.Mission = &v
	}
	if _, ok := args["colors"]; ok {
		patch.Colors = argStrings(args, "colors")
	}
	if v, ok := args["font"].(string); ok {
		patch.Font = &v
	}
	if v, ok := args["voice"].(string); ok {
		patch.Voice = &v
	}
	if v, ok := args["logoUrl"].(string); ok {
		patch.LogoURL = &v
	}
	return patch
}

func patchTouches(p brand.Patch, field string) bool {
	switch field {
	case brand.FieldName:
		return p.Name != nil
	case brand.FieldMission:
		return p.Mission != nil
	case brand.FieldColors:
		return p.Colors != nil
	case brand.FieldFont:
		return p.Font != nil
	case brand.FieldVoice:
		return p.Voice != nil
	}
	return false
}

func argString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func argSlice(args map[string]any, key string) []any {
	v, _ := args[key].([]any)
	return v
}

func argStrings(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
