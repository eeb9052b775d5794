package tools

// Tool names form a fixed enumerated set shared by the live channel's native
// function calling and the secondary decision pass.
const (
	DisplayFonts  = "display_fonts"
	DisplayColors = "display_colors"
	UpdateDNA     = "update_brand_dna"
	FinalizeField = "finalize_brand_field"
)

// Known reports whether name is one of the enumerated tools.
func Known(name string) bool {
	switch name {
	case DisplayFonts, DisplayColors, UpdateDNA, FinalizeField:
		return true
	}
	return false
}

// Call is a structured request to mutate brand state or trigger a UI display.
// Produced by the Gemini live channel or the decision agent; consumed only by
// the Handler.
type Call struct {
	ID   string         // upstream correlation id, empty for decision-pass calls
	Name string         // one of the enumerated tool names
	Args map[string]any // structurally typed per Name, normalized on apply
}

// Result acknowledges one applied call. Application is trusted and local, so
// a result always reports success with the (normalized) arguments echoed back.
type Result struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Status string         `json:"status"`
	Args   map[string]any `json:"args,omitempty"`
}

const statusSuccess = "success"
