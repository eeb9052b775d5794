package brand

// CanvasMode indicates what kind of suggestions the client is displaying.
type CanvasMode string

const (
	CanvasNone   CanvasMode = "none"
	CanvasFonts  CanvasMode = "fonts"
	CanvasColors CanvasMode = "colors"
)

// FontSuggestion is one displayed font option.
type FontSuggestion struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	Reasoning string `json:"reasoning"`
}

// Palette is one displayed color palette option.
type Palette struct {
	Name   string   `json:"name"`
	Colors []string `json:"colors"`
	Vibe   string   `json:"vibe"`
}

// CanvasState mirrors what the client is currently showing. Fonts and
// Palettes are mutually exclusive with Mode; display calls replace the
// whole state wholesale.
type CanvasState struct {
	Mode     CanvasMode
	Fonts    []FontSuggestion
	Palettes []Palette
}

func (c CanvasState) clone() CanvasState {
	out := CanvasState{Mode: c.Mode}
	if c.Mode == "" {
		out.Mode = CanvasNone
	}
	out.Fonts = append([]FontSuggestion(nil), c.Fonts...)
	out.Palettes = append([]Palette(nil), c.Palettes...)
	return out
}

// PaletteByName returns the displayed palette with the given name, if any.
func (c CanvasState) PaletteByName(name string) (Palette, bool) {
	for _, p := range c.Palettes {
		if p.Name == name {
			return p, true
		}
	}
	return Palette{}, false
}

// FontByName returns the displayed font with the given name, if any.
func (c CanvasState) FontByName(name string) (FontSuggestion, bool) {
	for _, f := range c.Fonts {
		if f.Name == name {
			return f, true
		}
	}
	return FontSuggestion{}, false
}
