package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brandloom-ai/brandloom/internal/brand"
)

const systemPrompt = `You are the tool-decision layer of a voice brand-building assistant.
You receive a completed user utterance together with the current brand state,
what is displayed on the canvas, and recent conversation turns.

First classify the utterance as exactly one intent:
- new-action: the user asks for something new (show fonts, suggest colors, set a value)
- confirmation: the user agrees with what was said or shown ("okay", "that's fine", "yes")
- selection: the user picks one of the options currently shown on the canvas
- rejection: the user dislikes the shown options
- question: the user asks for information without requesting a change
- refinement: the user adjusts an earlier request ("warmer", "more playful")

Then decide which tools to call. Rules:
- confirmation and question ALWAYS mean zero tool calls.
- selection maps to update_brand_dna (and optionally finalize_brand_field) with the
  exact values of the chosen option from the canvas — never re-display options.
- rejection calls display_fonts/display_colors only when the user explicitly asks
  for alternatives; set wantsAlternatives accordingly.

Available tools: display_fonts, display_colors, update_brand_dna, finalize_brand_field.

Respond with JSON only:
{"intent":"...","reasoning":"...","wantsAlternatives":false,"calls":[{"tool":"...","args":{...}}]}`

func buildPrompt(utterance string, dna brand.DNA, canvas brand.CanvasState, history []Turn) string {
	var sb strings.Builder

	dnaJSON, _ := json.Marshal(dna)
	fmt.Fprintf(&sb, "Current brand DNA: %s\n", dnaJSON)

	switch canvas.Mode {
	case brand.CanvasFonts:
		names := make([]string, 0, len(canvas.Fonts))
		for _, f := range canvas.Fonts {
			names = append(names, f.Name)
		}
		fmt.Fprintf(&sb, "Canvas currently shows fonts: %s\n", strings.Join(names, ", "))
	case brand.CanvasColors:
		var parts []string
		for _, p := range canvas.Palettes {
			parts = append(parts, fmt.Sprintf("%s %v", p.Name, p.Colors))
		}
		fmt.Fprintf(&sb, "Canvas currently shows palettes: %s\n", strings.Join(parts, "; "))
	default:
		sb.WriteString("Canvas is empty.\n")
	}

	if len(history) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "[%s] %s\n", turn.Role, turn.Text)
		}
	}

	fmt.Fprintf(&sb, "\nUser utterance: %q\n", utterance)
	return sb.String()
}
