package tools

// Schema is a minimal JSON-schema subset in the shape the Gemini API expects
// for function declarations (uppercase type names).
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// Declaration describes one callable tool to the model.
type Declaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Declarations returns the full tool surface advertised to the live channel.
func Declarations() []Declaration {
	return []Declaration{
		{
			Name:        DisplayFonts,
			Description: "Show the user a set of font suggestions on the canvas. Replaces anything currently displayed.",
			Parameters: &Schema{
				Type: "OBJECT",
				Properties: map[string]*Schema{
					"fonts": {
						Type: "ARRAY",
						Items: &Schema{
							Type: "OBJECT",
							Properties: map[string]*Schema{
								"name":      {Type: "STRING", Description: "Font family name"},
								"category":  {Type: "STRING", Description: "serif, sans-serif, display, handwriting or monospace"},
								"reasoning": {Type: "STRING", Description: "Why this font fits the brand"},
							},
							Required: []string{"name"},
						},
					},
					"previewText": {Type: "STRING", Description: "Sample text rendered in each font"},
				},
				Required: []string{"fonts"},
			},
		},
		{
			Name:        DisplayColors,
			Description: "Show the user a set of color palette suggestions on the canvas. Replaces anything currently displayed.",
			Parameters: &Schema{
				Type: "OBJECT",
				Properties: map[string]*Schema{
					"palettes": {
						Type: "ARRAY",
						Items: &Schema{
							Type: "OBJECT",
							Properties: map[string]*Schema{
								"name":   {Type: "STRING", Description: "Palette name"},
								"colors": {Type: "ARRAY", Items: &Schema{Type: "STRING"}, Description: "Ordered hex color strings"},
								"vibe":   {Type: "STRING", Description: "One or two words describing the mood"},
							},
							Required: []string{"name"},
						},
					},
				},
				Required: []string{"palettes"},
			},
		},
		{
			Name:        UpdateDNA,
			Description: "Persist a brand identity decision. Only include fields the user has actually decided.",
			Parameters: &Schema{
				Type: "OBJECT",
				Properties: map[string]*Schema{
					"name":    {Type: "STRING", Description: "Brand name"},
					"mission": {Type: "STRING", Description: "Brand mission statement"},
					"colors":  {Type: "ARRAY", Items: &Schema{Type: "STRING"}, Description: "Chosen palette as hex strings"},
					"font":    {Type: "STRING", Description: "Chosen primary font family"},
					"voice":   {Type: "STRING", Description: "Brand voice, e.g. Professional, Playful"},
					"logoUrl": {Type: "STRING", Description: "Logo asset URL"},
				},
			},
		},
		{
			Name:        FinalizeField,
			Description: "Mark one brand field as final after the user explicitly confirms it.",
			Parameters: &Schema{
				Type: "OBJECT",
				Properties: map[string]*Schema{
					"field": {Type: "STRING", Enum: []string{"name", "mission", "font", "colors", "voice"}},
				},
				Required: []string{"field"},
			},
		},
	}
}
